package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// requireAPIKey gates a route on the shared secret. With no key configured
// the gate is open.
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing API key")
			c.Abort()
			return
		}
		c.Next()
	}
}
