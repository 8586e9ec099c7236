package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/memory"
)

func newEngine(t *testing.T) *authcore.Engine {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	engine, err := authcore.New().
		WithConfig(cfg).
		WithStore(memory.New()).
		WithProvider("password", authcore.ProviderCredentials).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func signUp(t *testing.T, engine *authcore.Engine) *authcore.SessionResult {
	t.Helper()
	res, err := engine.SignUp(context.Background(), "password",
		authcore.CredentialsAccount{ID: "alice", Secret: "alice-secret"}, authcore.Profile{})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	return res
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardInjectsIdentityAndSession(t *testing.T) {
	engine := newEngine(t)
	signed := signUp(t, engine)

	var gotID *authcore.Identity
	var gotSession string
	h := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = IdentityFromContext(r.Context())
		gotSession = authcore.CurrentSession(r.Context())
	}))

	rec := serve(h, "Bearer "+signed.Tokens.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID == nil || gotID.UserID != signed.UserID {
		t.Fatalf("unexpected identity %+v", gotID)
	}
	if gotSession != signed.SessionID {
		t.Fatalf("expected current session %s, got %s", signed.SessionID, gotSession)
	}
}

func TestGuardRejectsMissingOrBadToken(t *testing.T) {
	engine := newEngine(t)
	h := Guard(engine)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer not-a-jwt"} {
		if rec := serve(h, header); rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestStrictAndJWTOnlyAfterSignOut(t *testing.T) {
	engine := newEngine(t)
	signed := signUp(t, engine)

	ctx := authcore.WithCurrentSession(context.Background(), signed.SessionID)
	if _, err := engine.Dispatch(ctx, authcore.SignOutRequest{}); err != nil {
		t.Fatalf("sign out failed: %v", err)
	}

	ok := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if rec := serve(RequireStrict(engine)(ok), "Bearer "+signed.Tokens.Token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("strict: expected 401, got %d", rec.Code)
	}
	if rec := serve(RequireJWTOnly(engine)(ok), "Bearer "+signed.Tokens.Token); rec.Code != http.StatusOK {
		t.Fatalf("jwt-only: expected 200, got %d", rec.Code)
	}
}

func TestGinGuard(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := newEngine(t)
	signed := signUp(t, engine)

	r := gin.New()
	r.GET("/", GinGuard(engine), func(c *gin.Context) {
		id, _ := IdentityFromContext(c.Request.Context())
		c.String(http.StatusOK, id.UserID)
	})

	if rec := serve(r, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec := serve(r, "Bearer "+signed.Tokens.Token)
	if rec.Code != http.StatusOK || rec.Body.String() != signed.UserID {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
