package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const identityKey = "auth.identity"

// Middleware rejects requests without a valid bearer token and stores the
// verified claims in the gin context.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			return
		}
		claims, err := m.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.Set(identityKey, claims)
		c.Next()
	}
}

// Identity returns the claims stored by Middleware.
func Identity(c *gin.Context) Claims {
	v, _ := c.Get(identityKey)
	claims, _ := v.(Claims)
	return claims
}

// BearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for websocket handshakes where browsers
// cannot set headers.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
