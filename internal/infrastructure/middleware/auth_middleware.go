package middleware

import (
	"net/http"
	"strings"

	"rangeview/pkg/auth"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a bearer token signed with the shared secret on
// control surface requests. A nil token source disables the check.
func AuthMiddleware(tokens *auth.TokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokens == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}
