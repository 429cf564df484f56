package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ClaimsKey is the gin context key holding the verified staff Claims.
const ClaimsKey = "claims"

// StaffAuth enforces bearer staff tokens. It passes every request through
// when the authenticator is disabled.
func StaffAuth(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, "missing bearer token")
			return
		}
		claims, err := a.Verify(strings.TrimSpace(authz[len("bearer "):]))
		if err != nil {
			abort(c, "invalid token")
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"kind":    ErrUnauthorized.Kind,
		"code":    ErrUnauthorized.Code,
		"message": msg,
	})
}
