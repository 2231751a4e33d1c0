package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/accountcheck/internal/logging"
)

// ContextKeyAPIKey is the gin context key holding the authenticated *APIKey.
const ContextKeyAPIKey = "apiKey"

// Middleware rejects requests without a valid key from the Authorization
// (Bearer) or X-API-Key header. It passes everything when m has no keys.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}

		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-API-Key")
		}

		key, err := m.ValidateKey(raw)
		switch {
		case err == nil:
		case errors.Is(err, ErrNoAPIKey):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer <key>' header.",
			})
			return
		default:
			logging.L(c.Request.Context()).Warn("rejected API key", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "The API key is not valid",
			})
			return
		}

		c.Set(ContextKeyAPIKey, key)
		c.Next()
	}
}

// GetAPIKey returns the authenticated key, if any.
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	v, ok := c.Get(ContextKeyAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*APIKey)
	return key, ok
}
