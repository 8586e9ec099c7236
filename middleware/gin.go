package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
)

const ginIdentityKey = "authcore.identity"

// GinGuard is Guard for gin routers. The identity is available through
// IdentityFromContext(c.Request.Context()) and under c.Get("authcore.identity").
func GinGuard(engine *authcore.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		id, err := engine.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(ginIdentityKey, id)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
