package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}

// RateLimitKey scopes a client address to one route group.
func RateLimitKey(scope, client string) string {
	if client == "" {
		client = "unknown"
	}
	return "scope:" + scope + ":client:" + client
}
