package authcore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/oauth"
)

// OAuthRedirect is where to send the browser, and the check cookies to set
// on that response.
type OAuthRedirect struct {
	URL     string
	Cookies []*http.Cookie
}

// OAuthCallback is the outcome of the callback. The client redeems Code
// together with the verifier through verifyCodeAndSignIn.
type OAuthCallback struct {
	Code       string
	VerifierID string
	UserID     string
	// Cookies clear the consumed checks and must be set even on failure.
	Cookies []*http.Cookie
}

func (e *Engine) oauthProvider(id string) (*oauth.Provider, error) {
	p, ok := e.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, id)
	}
	if p.oauth == nil {
		return nil, fmt.Errorf("%w: %q is not an oauth provider", ErrProviderType, id)
	}
	return p.oauth, nil
}

// StartOAuth creates the verifier that will carry the caller's current
// session through the redirect.
func (e *Engine) StartOAuth(ctx context.Context) (string, error) {
	res, err := Run[*VerifierResult](ctx, e, VerifierRequest{})
	if err != nil {
		return "", err
	}
	return res.VerifierID, nil
}

// BeginOAuth creates the provider's checks, binds their signature to
// verifier and builds the authorization URL.
func (e *Engine) BeginOAuth(ctx context.Context, providerID, verifier string) (*OAuthRedirect, error) {
	if e == nil || e.orchestrator == nil {
		return nil, ErrEngineNotReady
	}
	p, err := e.oauthProvider(providerID)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "authcore.oauth.begin",
		trace.WithAttributes(attribute.String("authcore.provider", providerID)))
	defer span.End()

	auth, err := e.orchestrator.BeginAuthorization(ctx, p)
	if err != nil {
		span.SetStatus(codes.Error, "authorization failed")
		return nil, e.oauthFailure(ctx, providerID, err)
	}
	if _, err := Run[*VerifierSignatureResult](ctx, e, VerifierSignatureRequest{
		Verifier:  verifier,
		Signature: auth.Signature,
	}); err != nil {
		return nil, err
	}
	return &OAuthRedirect{URL: auth.URL, Cookies: auth.Cookies}, nil
}

// CompleteOAuth runs the network phase of the callback (check validation,
// code exchange, profile retrieval) outside any transaction, then records
// the identity with userOAuth. The returned callback is never nil so that
// its Cookies can always be applied.
func (e *Engine) CompleteOAuth(ctx context.Context, providerID string, params url.Values, cookies []*http.Cookie) (*OAuthCallback, error) {
	out := &OAuthCallback{}
	if e == nil || e.orchestrator == nil {
		return out, ErrEngineNotReady
	}
	p, err := e.oauthProvider(providerID)
	if err != nil {
		return out, err
	}

	netCtx, span := e.tracer.Start(ctx, "authcore.oauth.callback",
		trace.WithAttributes(attribute.String("authcore.provider", providerID)))
	comp, err := e.orchestrator.CompleteAuthorization(netCtx, p, params, cookies)
	if comp != nil {
		out.Cookies = comp.Cookies
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback failed")
		span.End()
		return out, e.oauthFailure(ctx, providerID, err)
	}
	span.End()

	res, err := Run[*UserOAuthResult](ctx, e, UserOAuthRequest{
		Provider:          providerID,
		ProviderAccountID: comp.Profile.ID,
		Profile:           profileFromOAuth(comp.Profile),
		Signature:         comp.Signature,
	})
	if err != nil {
		return out, err
	}
	out.Code = res.Code
	out.VerifierID = res.VerifierID
	out.UserID = res.UserID
	return out, nil
}

// oauthFailure turns provider errors into an OAuthFailed failure carrying
// the raw protocol fields. Other errors are returned unchanged.
func (e *Engine) oauthFailure(ctx context.Context, providerID string, err error) error {
	oe, ok := oauth.AsError(err)
	if !ok {
		return err
	}
	f := &Failure{
		Code:             OAuthFailed,
		ProviderID:       providerID,
		OAuthError:       oe.Code,
		OAuthDescription: oe.Description,
		OAuthURI:         oe.URI,
		Err:              err,
	}
	e.logger.Warn("authcore: oauth provider error",
		zap.String("provider", providerID),
		zap.String("code", oe.Code),
		zap.String("description", oe.Description),
		zap.Error(oe.Err),
	)
	e.record(ctx, "oauthCallback", outcome{
		event:    auditEventOAuthFailed,
		provider: providerID,
		failure:  OAuthFailed,
		metrics:  []MetricID{MetricOAuthFailure},
		metadata: map[string]string{"oauth_error": oe.Code},
	})
	return f
}

func profileFromOAuth(p oauth.Profile) Profile {
	return Profile{
		Name:          p.Name,
		Image:         p.Image,
		Email:         p.Email,
		EmailVerified: p.EmailVerified,
		Phone:         p.Phone,
		PhoneVerified: p.PhoneVerified,
	}
}
