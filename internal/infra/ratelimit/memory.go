package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"evidencia/internal/domain"
)

const defaultMaxKeys = 10000

// MemoryLimiter keeps fixed-window counters in process. It is the default
// when no redis address is configured; counters are per instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
	maxKeys int
}

type window struct {
	count int
	ends  time.Time
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		now:     cfg.Now,
		windows: make(map[string]*window),
		maxKeys: cfg.MaxKeys,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.ends) {
		if !ok && len(m.windows) >= m.maxKeys {
			m.evictExpired(now)
			if len(m.windows) >= m.maxKeys {
				return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
			}
		}
		w = &window{ends: now.Add(length)}
		m.windows[key] = w
	}

	if w.count >= limit {
		return domain.RateLimitDecision{Limit: limit, ResetAt: w.ends}, nil
	}
	w.count++
	return domain.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - w.count,
		ResetAt:   w.ends,
	}, nil
}

func (m *MemoryLimiter) evictExpired(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.ends) {
			delete(m.windows, key)
		}
	}
}

var _ domain.RateLimiter = (*MemoryLimiter)(nil)
