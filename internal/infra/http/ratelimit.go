package http

import (
	"net/http"
	"strconv"
	"time"

	"evidencia/internal/domain"

	"github.com/gin-gonic/gin"
)

// rateLimit counts requests per client address in the given scope. A
// limiter error lets the request through.
func (s *Server) rateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
			c.Next()
			return
		}
		key := domain.RateLimitKey(scope, c.ClientIP())
		decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable")
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
