package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultIDTokenLeeway tolerates clock skew on ID token time claims.
const DefaultIDTokenLeeway = time.Minute

var idTokenMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}

// Orchestrator drives the authorization-code grant. It holds no per-flow
// state; everything a flow needs travels in the check cookies.
type Orchestrator struct {
	checks *Checks
	client *http.Client
	now    func() time.Time
	leeway time.Duration
	disc   *discovery
	keys   *keyCache
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*orchestratorOptions)

type orchestratorOptions struct {
	client *http.Client
	now    func() time.Time
	ttl    time.Duration
	leeway time.Duration
}

// WithHTTPClient sets the client used for discovery, token, JWKS and
// userinfo requests.
func WithHTTPClient(c *http.Client) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if c != nil {
			o.client = c
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetadataTTL overrides DefaultMetadataTTL.
func WithMetadataTTL(ttl time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithIDTokenLeeway overrides DefaultIDTokenLeeway.
func WithIDTokenLeeway(d time.Duration) OrchestratorOption {
	return func(o *orchestratorOptions) {
		if d >= 0 {
			o.leeway = d
		}
	}
}

// NewOrchestrator creates an Orchestrator over checks.
func NewOrchestrator(checks *Checks, opts ...OrchestratorOption) *Orchestrator {
	cfg := orchestratorOptions{
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		ttl:    DefaultMetadataTTL,
		leeway: DefaultIDTokenLeeway,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if checks == nil {
		checks = NewChecks()
	}
	disc := newDiscovery(cfg.client, cfg.ttl, cfg.now)
	return &Orchestrator{
		checks: checks,
		client: cfg.client,
		now:    cfg.now,
		leeway: cfg.leeway,
		disc:   disc,
		keys:   newKeyCache(disc),
	}
}

// Checks returns the check store used by the orchestrator.
func (o *Orchestrator) Checks() *Checks { return o.checks }

// Authorization is the outcome of BeginAuthorization.
type Authorization struct {
	URL     string
	Cookies []*http.Cookie
	// Signature correlates this flow with its verifier record.
	Signature string
}

// Completion is the outcome of CompleteAuthorization.
type Completion struct {
	Profile Profile
	Token   *oauth2.Token
	// Cookies clear the consumed checks. It is populated even when
	// CompleteAuthorization fails.
	Cookies   []*http.Cookie
	Signature string
}

// Signature joins the non-empty check values in the fixed order code
// verifier, state, nonce.
func Signature(codeVerifier, state, nonce string) string {
	parts := make([]string, 0, 3)
	for _, v := range []string{codeVerifier, state, nonce} {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// BeginAuthorization creates the checks the provider requires and builds
// the authorization URL.
func (o *Orchestrator) BeginAuthorization(ctx context.Context, p *Provider) (*Authorization, error) {
	endpoints, err := o.disc.resolve(ctx, p)
	if err != nil {
		return nil, newError(p.ID, "discovery_failed", err)
	}
	if endpoints.Authorization == "" {
		return nil, newError(p.ID, "missing_authorization_endpoint", ErrMissingEndpoint)
	}

	out := &Authorization{}
	var verifier, state, nonce string
	var opts []oauth2.AuthCodeOption
	for _, kind := range []Check{CheckPKCE, CheckState, CheckNonce} {
		if !p.Requires(kind) {
			continue
		}
		value, cookie, err := o.checks.Create(kind, p.ID)
		if err != nil {
			return nil, err
		}
		out.Cookies = append(out.Cookies, cookie)
		switch kind {
		case CheckPKCE:
			verifier = value
			opts = append(opts, oauth2.S256ChallengeOption(value))
		case CheckState:
			state = value
		case CheckNonce:
			nonce = value
			opts = append(opts, oauth2.SetAuthURLParam("nonce", value))
		}
	}
	for k, v := range p.AuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}

	conf := &oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURL,
		Scopes:      p.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: endpoints.Authorization},
	}
	out.URL = conf.AuthCodeURL(state, opts...)
	out.Signature = Signature(verifier, state, nonce)
	return out, nil
}

// CompleteAuthorization consumes the checks, exchanges the code and returns
// the provider profile. Every consumed check is cleared in the returned
// cookies before anything else can fail.
func (o *Orchestrator) CompleteAuthorization(ctx context.Context, p *Provider, params url.Values, cookies []*http.Cookie) (*Completion, error) {
	out := &Completion{}
	values := map[Check]string{}
	var missing error
	for _, kind := range []Check{CheckPKCE, CheckState, CheckNonce} {
		if !p.Requires(kind) {
			continue
		}
		value, cleared, err := o.checks.Use(kind, p.ID, cookies)
		out.Cookies = append(out.Cookies, cleared)
		if err != nil && missing == nil {
			missing = err
		}
		values[kind] = value
	}

	if code := params.Get("error"); code != "" {
		return out, &Error{
			ProviderID:  p.ID,
			Code:        code,
			Description: params.Get("error_description"),
			URI:         params.Get("error_uri"),
		}
	}
	if missing != nil {
		return out, newError(p.ID, "check_missing", missing)
	}
	if p.Requires(CheckState) && !equal(values[CheckState], params.Get("state")) {
		return out, newError(p.ID, "state_mismatch", ErrStateMismatch)
	}
	code := params.Get("code")
	if code == "" {
		return out, newError(p.ID, "missing_code", ErrMissingCode)
	}

	endpoints, err := o.disc.resolve(ctx, p)
	if err != nil {
		return out, newError(p.ID, "discovery_failed", err)
	}
	if endpoints.Token == "" {
		return out, newError(p.ID, "missing_token_endpoint", ErrMissingEndpoint)
	}

	token, err := o.exchange(ctx, p, endpoints, code, values[CheckPKCE])
	if err != nil {
		return out, err
	}
	out.Token = token

	claims, err := o.claims(ctx, p, endpoints, token, values[CheckNonce])
	if err != nil {
		return out, err
	}
	mapProfile := p.Profile
	if mapProfile == nil {
		mapProfile = DefaultProfile
	}
	profile, err := mapProfile(claims, token)
	if err != nil {
		return out, newError(p.ID, "profile_failed", err)
	}
	if profile.ID == "" {
		return out, newError(p.ID, "profile_failed", fmt.Errorf("%w: empty account id", ErrProfile))
	}
	out.Profile = profile
	out.Signature = Signature(values[CheckPKCE], values[CheckState], values[CheckNonce])
	return out, nil
}

func (o *Orchestrator) exchange(ctx context.Context, p *Provider, e Endpoints, code, verifier string) (*oauth2.Token, error) {
	conf, opts, err := o.exchangeConfig(p, e)
	if err != nil {
		return nil, newError(p.ID, "client_auth_failed", err)
	}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, wrapExchangeError(p.ID, err)
	}
	return token, nil
}

// claims returns the raw identity claims: the validated ID token for OIDC
// providers, the userinfo response otherwise. A userinfo hook's claims are
// layered over the ID token claims.
func (o *Orchestrator) claims(ctx context.Context, p *Provider, e Endpoints, token *oauth2.Token, nonce string) (map[string]any, error) {
	var claims map[string]any
	if p.Type == TypeOIDC {
		idClaims, err := o.verifyIDToken(ctx, p, e, token, nonce)
		if err != nil {
			return nil, err
		}
		claims = idClaims
		if p.Userinfo == nil {
			return claims, nil
		}
	}

	extra, err := o.userinfo(ctx, p, e, token)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return extra, nil
	}
	for k, v := range extra {
		if k == "sub" {
			continue
		}
		claims[k] = v
	}
	return claims, nil
}

func (o *Orchestrator) userinfo(ctx context.Context, p *Provider, e Endpoints, token *oauth2.Token) (map[string]any, error) {
	if p.Userinfo != nil {
		claims, err := p.Userinfo(ctx, o.client, token)
		if err != nil {
			return nil, newError(p.ID, "userinfo_failed", err)
		}
		return claims, nil
	}
	if e.Userinfo == "" {
		return nil, newError(p.ID, "missing_userinfo_endpoint", ErrMissingEndpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.Userinfo, nil)
	if err != nil {
		return nil, newError(p.ID, "userinfo_failed", err)
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)
	claims := map[string]any{}
	if err := doJSON(o.client, req, &claims); err != nil {
		return nil, newError(p.ID, "userinfo_failed", err)
	}
	return claims, nil
}

func (o *Orchestrator) verifyIDToken(ctx context.Context, p *Provider, e Endpoints, token *oauth2.Token, nonce string) (map[string]any, error) {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return nil, newError(p.ID, "invalid_id_token", fmt.Errorf("%w: missing id_token", ErrInvalidIDToken))
	}
	if e.JWKS == "" {
		return nil, newError(p.ID, "missing_jwks_uri", ErrMissingEndpoint)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(idTokenMethods),
		jwt.WithIssuer(p.Issuer),
		jwt.WithAudience(p.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(o.now),
		jwt.WithLeeway(o.leeway),
	)
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return o.keys.key(ctx, e.JWKS, kid)
	})
	if err != nil {
		return nil, newError(p.ID, "invalid_id_token", fmt.Errorf("%w: %v", ErrInvalidIDToken, err))
	}
	if p.Requires(CheckNonce) {
		got, _ := claims["nonce"].(string)
		if !equal(got, nonce) {
			return nil, newError(p.ID, "nonce_mismatch", ErrNonceMismatch)
		}
	}
	return map[string]any(claims), nil
}

func equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AsError extracts the provider error fields from err.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
