package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/sealskin/internal/broker"
)

const principalKey = "principal"

// Middleware authenticates the Authorization: Bearer header and stashes the
// resulting Principal in the gin context.
func (id *Identity) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		principal, err := id.Authenticate(c.Request.Context(), token)
		if err != nil {
			status := http.StatusUnauthorized
			if be, ok := err.(*broker.Error); ok {
				status = be.Status()
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// FromContext retrieves the Principal stashed by Middleware.
func FromContext(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}
