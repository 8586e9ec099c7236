package oauth

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// Type distinguishes plain OAuth 2.0 providers from OpenID Connect ones.
type Type string

const (
	TypeOAuth2 Type = "oauth"
	TypeOIDC   Type = "oidc"
)

// Check is a single-use value carried in a cookie across the redirect.
type Check string

const (
	CheckState Check = "state"
	CheckPKCE  Check = "pkce"
	CheckNonce Check = "nonce"
)

// ClientAuthMethod is a token_endpoint_auth_method value.
type ClientAuthMethod string

const (
	AuthClientSecretBasic ClientAuthMethod = "client_secret_basic"
	AuthClientSecretPost  ClientAuthMethod = "client_secret_post"
	AuthClientSecretJWT   ClientAuthMethod = "client_secret_jwt"
	AuthPrivateKeyJWT     ClientAuthMethod = "private_key_jwt"
	AuthNone              ClientAuthMethod = "none"
)

// Endpoints are the provider URLs. For OIDC providers empty entries are
// filled from discovery.
type Endpoints struct {
	Authorization string
	Token         string
	Userinfo      string
	JWKS          string
}

// UserinfoFunc replaces the default userinfo request.
type UserinfoFunc func(ctx context.Context, client *http.Client, token *oauth2.Token) (map[string]any, error)

// ProfileFunc maps raw claims to a Profile.
type ProfileFunc func(claims map[string]any, token *oauth2.Token) (Profile, error)

// Profile is the identity returned by a completed authorization.
type Profile struct {
	ID            string
	Name          string
	Image         string
	Email         string
	EmailVerified *bool
	Phone         string
	PhoneVerified *bool
	Raw           map[string]any
}

// Provider is one configured OAuth or OIDC provider. Build it with
// NewOAuth2Provider, NewOIDCProvider or a preset.
type Provider struct {
	ID           string
	Type         Type
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Checks       []Check
	Issuer       string
	Endpoints    Endpoints
	ClientAuth   ClientAuthMethod
	// PrivateKey signs private_key_jwt assertions.
	PrivateKey   crypto.Signer
	PrivateKeyID string
	AuthParams   map[string]string
	Userinfo     UserinfoFunc
	Profile      ProfileFunc
	// AllowDangerousEmailAccountLinking nil means emails from this provider
	// count as verified unless the profile says otherwise.
	AllowDangerousEmailAccountLinking *bool
}

// Requires reports whether the provider uses check c.
func (p *Provider) Requires(c Check) bool {
	for _, have := range p.Checks {
		if have == c {
			return true
		}
	}
	return false
}

// ProviderOption configures a Provider under construction.
type ProviderOption func(*Provider)

// WithClient sets the client credentials.
func WithClient(id, secret string) ProviderOption {
	return func(p *Provider) {
		p.ClientID = id
		p.ClientSecret = secret
	}
}

// WithRedirectURL sets the callback URL registered with the provider.
func WithRedirectURL(url string) ProviderOption {
	return func(p *Provider) { p.RedirectURL = url }
}

// WithScopes replaces the default scopes.
func WithScopes(scopes ...string) ProviderOption {
	return func(p *Provider) { p.Scopes = append([]string(nil), scopes...) }
}

// WithChecks replaces the default checks.
func WithChecks(checks ...Check) ProviderOption {
	return func(p *Provider) { p.Checks = append([]Check(nil), checks...) }
}

// WithEndpoints overrides provider URLs; empty fields keep their current value.
func WithEndpoints(e Endpoints) ProviderOption {
	return func(p *Provider) {
		if e.Authorization != "" {
			p.Endpoints.Authorization = e.Authorization
		}
		if e.Token != "" {
			p.Endpoints.Token = e.Token
		}
		if e.Userinfo != "" {
			p.Endpoints.Userinfo = e.Userinfo
		}
		if e.JWKS != "" {
			p.Endpoints.JWKS = e.JWKS
		}
	}
}

// WithClientAuth selects the token endpoint authentication method.
func WithClientAuth(method ClientAuthMethod) ProviderOption {
	return func(p *Provider) { p.ClientAuth = method }
}

// WithPrivateKey sets the key for private_key_jwt and selects that method.
func WithPrivateKey(key crypto.Signer, keyID string) ProviderOption {
	return func(p *Provider) {
		p.PrivateKey = key
		p.PrivateKeyID = keyID
		p.ClientAuth = AuthPrivateKeyJWT
	}
}

// WithAuthorizationParam adds a static query parameter to the authorization URL.
func WithAuthorizationParam(key, value string) ProviderOption {
	return func(p *Provider) {
		if p.AuthParams == nil {
			p.AuthParams = map[string]string{}
		}
		p.AuthParams[key] = value
	}
}

// WithUserinfo installs a custom userinfo request.
func WithUserinfo(fn UserinfoFunc) ProviderOption {
	return func(p *Provider) { p.Userinfo = fn }
}

// WithProfile installs a custom claims mapping.
func WithProfile(fn ProfileFunc) ProviderOption {
	return func(p *Provider) { p.Profile = fn }
}

// WithDangerousEmailLinking sets AllowDangerousEmailAccountLinking.
func WithDangerousEmailLinking(allow bool) ProviderOption {
	return func(p *Provider) { p.AllowDangerousEmailAccountLinking = &allow }
}

// NewOAuth2Provider builds a plain OAuth 2.0 provider. Defaults: state and
// pkce checks, client_secret_basic.
func NewOAuth2Provider(id string, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		ID:         id,
		Type:       TypeOAuth2,
		Checks:     []Check{CheckState, CheckPKCE},
		ClientAuth: AuthClientSecretBasic,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Endpoints.Authorization == "" || p.Endpoints.Token == "" {
		return nil, fmt.Errorf("%w: %s: authorization and token endpoints required", ErrInvalidProvider, id)
	}
	if p.Endpoints.Userinfo == "" && p.Userinfo == nil {
		return nil, fmt.Errorf("%w: %s: userinfo endpoint or hook required", ErrInvalidProvider, id)
	}
	return p, nil
}

// NewOIDCProvider builds an OpenID Connect provider. Endpoints not given are
// discovered from issuer. Defaults: state, pkce and nonce checks, scopes
// openid profile email, client_secret_basic.
func NewOIDCProvider(id, issuer string, opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		ID:         id,
		Type:       TypeOIDC,
		Issuer:     strings.TrimRight(issuer, "/"),
		Scopes:     []string{"openid", "profile", "email"},
		Checks:     []Check{CheckState, CheckPKCE, CheckNonce},
		ClientAuth: AuthClientSecretBasic,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.Issuer == "" {
		return nil, fmt.Errorf("%w: %s: issuer required", ErrInvalidProvider, id)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: empty provider id", ErrInvalidProvider)
	}
	if p.ClientID == "" {
		return fmt.Errorf("%w: %s: client id required", ErrInvalidProvider, p.ID)
	}
	for _, c := range p.Checks {
		switch c {
		case CheckState, CheckPKCE, CheckNonce:
		default:
			return fmt.Errorf("%w: %s: unknown check %q", ErrInvalidProvider, p.ID, c)
		}
	}
	if p.Requires(CheckNonce) && p.Type != TypeOIDC {
		return fmt.Errorf("%w: %s: nonce check requires an oidc provider", ErrInvalidProvider, p.ID)
	}
	switch p.ClientAuth {
	case AuthClientSecretBasic, AuthClientSecretPost, AuthClientSecretJWT:
		if p.ClientSecret == "" {
			return fmt.Errorf("%w: %s: %s requires a client secret", ErrInvalidProvider, p.ID, p.ClientAuth)
		}
	case AuthPrivateKeyJWT:
		if p.PrivateKey == nil {
			return fmt.Errorf("%w: %s: private_key_jwt requires a private key", ErrInvalidProvider, p.ID)
		}
	case AuthNone:
	default:
		return fmt.Errorf("%w: %s: unsupported token_endpoint_auth_method %q", ErrInvalidProvider, p.ID, p.ClientAuth)
	}
	return nil
}

// GitHub returns a preset for github.com.
func GitHub(clientID, clientSecret string, opts ...ProviderOption) (*Provider, error) {
	base := []ProviderOption{
		WithClient(clientID, clientSecret),
		WithScopes("read:user", "user:email"),
		WithEndpoints(Endpoints{
			Authorization: "https://github.com/login/oauth/authorize",
			Token:         "https://github.com/login/oauth/access_token",
			Userinfo:      "https://api.github.com/user",
		}),
		WithProfile(githubProfile),
	}
	return NewOAuth2Provider("github", append(base, opts...)...)
}

func githubProfile(claims map[string]any, _ *oauth2.Token) (Profile, error) {
	p, err := DefaultProfile(claims, nil)
	if err != nil {
		return Profile{}, err
	}
	if p.Name == "" {
		p.Name = stringClaim(claims, "login")
	}
	return p, nil
}

// Google returns a preset for accounts.google.com.
func Google(clientID, clientSecret string, opts ...ProviderOption) (*Provider, error) {
	return NewOIDCProvider("google", "https://accounts.google.com", append([]ProviderOption{WithClient(clientID, clientSecret)}, opts...)...)
}

// DefaultProfile maps standard OIDC claims, falling back to the common
// "id" and "avatar_url" fields of OAuth 2.0 userinfo responses.
func DefaultProfile(claims map[string]any, _ *oauth2.Token) (Profile, error) {
	p := Profile{
		ID:            stringClaim(claims, "sub"),
		Name:          stringClaim(claims, "name"),
		Image:         stringClaim(claims, "picture"),
		Email:         stringClaim(claims, "email"),
		EmailVerified: boolClaim(claims, "email_verified"),
		Phone:         stringClaim(claims, "phone_number"),
		PhoneVerified: boolClaim(claims, "phone_number_verified"),
		Raw:           claims,
	}
	if p.ID == "" {
		p.ID = stringClaim(claims, "id")
	}
	if p.Image == "" {
		p.Image = stringClaim(claims, "avatar_url")
	}
	if p.ID == "" {
		return Profile{}, fmt.Errorf("%w: no subject in claims", ErrProfile)
	}
	return p, nil
}

func stringClaim(claims map[string]any, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func boolClaim(claims map[string]any, key string) *bool {
	switch v := claims[key].(type) {
	case bool:
		return &v
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil
		}
		return &b
	default:
		return nil
	}
}
