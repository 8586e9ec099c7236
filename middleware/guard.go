package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity stored by a guard.
func IdentityFromContext(ctx context.Context) (*authcore.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*authcore.Identity)
	return id, ok
}

// WithIdentity stores id in ctx together with its session, making it the
// current session for Engine.Dispatch.
func WithIdentity(ctx context.Context, id *authcore.Identity) context.Context {
	ctx = context.WithValue(ctx, identityContextKey{}, id)
	return authcore.WithCurrentSession(ctx, id.SessionID)
}

// Guard rejects requests without a valid bearer token using the engine's
// configured validation mode.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, token string) (*authcore.Identity, error) {
		return engine.ValidateAccessToken(ctx, token)
	})
}

func guardMode(engine *authcore.Engine, mode authcore.ValidationMode) func(http.Handler) http.Handler {
	return guard(engine, func(ctx context.Context, token string) (*authcore.Identity, error) {
		return engine.ValidateAccessTokenMode(ctx, token, mode)
	})
}

type validateFunc func(ctx context.Context, token string) (*authcore.Identity, error)

func guard(engine *authcore.Engine, validate validateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			id, err := validate(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
