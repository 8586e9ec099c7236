package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authcore/oauth"
	"github.com/MrEthical07/authcore/store"
)

type fakeProvider struct {
	srv        *httptest.Server
	tokenCalls atomic.Int64
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		writeJSON(w, map[string]any{"access_token": "at-1", "token_type": "Bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": 4242, "login": "octo", "name": "Octo Cat", "email": "octo@example.com"})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeProvider) provider(t *testing.T) *oauth.Provider {
	t.Helper()
	p, err := oauth.NewOAuth2Provider("github",
		oauth.WithClient("client-1", "secret-1"),
		oauth.WithRedirectURL("https://app.example.com/api/auth/callback/github"),
		oauth.WithEndpoints(oauth.Endpoints{
			Authorization: f.srv.URL + "/authorize",
			Token:         f.srv.URL + "/token",
			Userinfo:      f.srv.URL + "/userinfo",
		}),
	)
	if err != nil {
		t.Fatalf("NewOAuth2Provider failed: %v", err)
	}
	return p
}

func newOAuthTestEngine(t *testing.T) (*testEngine, *fakeProvider) {
	t.Helper()
	f := newFakeProvider(t)
	p := f.provider(t)
	te := newTestEngine(t, testConfig(t), func(b *Builder) {
		b.WithOAuthProviders(p).WithHTTPClient(f.srv.Client())
	})
	return te, f
}

func callbackParams(t *testing.T, redirect *OAuthRedirect) url.Values {
	t.Helper()
	u, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	return url.Values{"code": {"code-1"}, "state": {u.Query().Get("state")}}
}

func TestOAuthSignInEndToEnd(t *testing.T) {
	te, f := newOAuthTestEngine(t)
	ctx := context.Background()

	verifier, err := te.StartOAuth(ctx)
	if err != nil {
		t.Fatalf("StartOAuth failed: %v", err)
	}
	redirect, err := te.BeginOAuth(ctx, "github", verifier)
	if err != nil {
		t.Fatalf("BeginOAuth failed: %v", err)
	}
	if !strings.HasPrefix(redirect.URL, f.srv.URL+"/authorize") {
		t.Fatalf("unexpected authorization url %s", redirect.URL)
	}
	if len(redirect.Cookies) == 0 {
		t.Fatal("expected check cookies")
	}

	cb, err := te.CompleteOAuth(ctx, "github", callbackParams(t, redirect), redirect.Cookies)
	if err != nil {
		t.Fatalf("CompleteOAuth failed: %v", err)
	}
	if cb.Code == "" || cb.VerifierID != verifier || cb.UserID == "" {
		t.Fatalf("unexpected callback: %+v", cb)
	}
	for _, c := range cb.Cookies {
		if c.MaxAge >= 0 {
			t.Fatalf("expected cookie %s cleared", c.Name)
		}
	}

	signed, err := Run[*SessionResult](ctx, te.Engine, VerifyCodeAndSignInRequest{
		Provider:       "github",
		Code:           cb.Code,
		Verifier:       verifier,
		GenerateTokens: true,
	})
	if err != nil {
		t.Fatalf("code redemption failed: %v", err)
	}
	if signed.UserID != cb.UserID || signed.Tokens == nil {
		t.Fatalf("unexpected session: %+v", signed)
	}
	if n := te.store.Len(store.TableVerifiers); n != 0 {
		t.Fatalf("expected verifier consumed, have %d", n)
	}
	if got := te.MetricsSnapshot().Counters[MetricOAuthSuccess]; got != 1 {
		t.Fatalf("expected 1 oauth success, got %d", got)
	}
}

func TestOAuthCodeRequiresVerifier(t *testing.T) {
	te, _ := newOAuthTestEngine(t)
	ctx := context.Background()

	verifier, err := te.StartOAuth(ctx)
	if err != nil {
		t.Fatalf("StartOAuth failed: %v", err)
	}
	redirect, err := te.BeginOAuth(ctx, "github", verifier)
	if err != nil {
		t.Fatalf("BeginOAuth failed: %v", err)
	}
	cb, err := te.CompleteOAuth(ctx, "github", callbackParams(t, redirect), redirect.Cookies)
	if err != nil {
		t.Fatalf("CompleteOAuth failed: %v", err)
	}

	res, err := te.Dispatch(ctx, VerifyCodeAndSignInRequest{Provider: "github", Code: cb.Code, Verifier: "someone-else"})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if f, ok := AsFailure(res); !ok || f.Code != InvalidVerifier {
		t.Fatalf("expected InvalidVerifier, got %#v", res)
	}
}

func TestOAuthTamperedStateFailsBeforeExchange(t *testing.T) {
	te, f := newOAuthTestEngine(t)
	ctx := context.Background()

	verifier, err := te.StartOAuth(ctx)
	if err != nil {
		t.Fatalf("StartOAuth failed: %v", err)
	}
	redirect, err := te.BeginOAuth(ctx, "github", verifier)
	if err != nil {
		t.Fatalf("BeginOAuth failed: %v", err)
	}
	for _, c := range redirect.Cookies {
		if strings.HasSuffix(c.Name, "OAuthState") {
			c.Value = "tampered"
		}
	}

	cb, err := te.CompleteOAuth(ctx, "github", callbackParams(t, redirect), redirect.Cookies)
	if !errors.Is(err, ErrOAuthFailed) {
		t.Fatalf("expected ErrOAuthFailed, got %v", err)
	}
	fail, _ := AsFailure(err)
	if fail.OAuthError != "state_mismatch" || fail.ProviderID != "github" {
		t.Fatalf("unexpected failure: %+v", fail)
	}
	if cb == nil || len(cb.Cookies) != len(redirect.Cookies) {
		t.Fatal("expected clearing cookies even on failure")
	}
	if f.tokenCalls.Load() != 0 {
		t.Fatal("token endpoint must not be called")
	}
	if got := te.MetricsSnapshot().Counters[MetricOAuthFailure]; got != 1 {
		t.Fatalf("expected 1 oauth failure, got %d", got)
	}
}

func TestOAuthUnknownAndWrongProvider(t *testing.T) {
	te, _ := newOAuthTestEngine(t)
	ctx := context.Background()

	if _, err := te.BeginOAuth(ctx, "gitlab", "v"); !errors.Is(err, ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
	if _, err := te.BeginOAuth(ctx, "password", "v"); !errors.Is(err, ErrProviderType) {
		t.Fatalf("expected ErrProviderType, got %v", err)
	}
}

func TestOAuthLinksToSignedInUser(t *testing.T) {
	te, _ := newOAuthTestEngine(t)
	ctx := context.Background()

	signed, err := te.SignUp(ctx, "password", CredentialsAccount{ID: "octo", Secret: "octo-secret"}, Profile{})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	verifier, err := te.StartOAuth(WithCurrentSession(ctx, signed.SessionID))
	if err != nil {
		t.Fatalf("StartOAuth failed: %v", err)
	}
	redirect, err := te.BeginOAuth(ctx, "github", verifier)
	if err != nil {
		t.Fatalf("BeginOAuth failed: %v", err)
	}
	cb, err := te.CompleteOAuth(ctx, "github", callbackParams(t, redirect), redirect.Cookies)
	if err != nil {
		t.Fatalf("CompleteOAuth failed: %v", err)
	}
	if cb.UserID != signed.UserID {
		t.Fatalf("expected oauth account linked to %s, got %s", signed.UserID, cb.UserID)
	}
	if n := te.store.Len(store.TableUsers); n != 1 {
		t.Fatalf("expected a single user, have %d", n)
	}
}
