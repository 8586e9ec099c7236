package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireJWTOnly validates with [authcore.ModeJWTOnly] regardless of the
// engine's default, so signed-out sessions pass until their token expires.
func RequireJWTOnly(engine *authcore.Engine) func(http.Handler) http.Handler {
	return guardMode(engine, authcore.ModeJWTOnly)
}
