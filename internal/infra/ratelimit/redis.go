package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"evidencia/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "evidencia:ratelimit:"

// RedisLimiter shares fixed-window counters between instances. Windows are
// aligned to multiples of the window length, so every instance agrees on
// when a window resets without reading the key's TTL. Requests refused
// inside a window are not counted, as with MemoryLimiter.
type RedisLimiter struct {
	client redis.UniversalClient
	now    func() time.Time
}

// KEYS[1] counter, ARGV[1] limit, ARGV[2] expiry in ms.
// Returns {count, admitted}.
var admitScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
  return {count, 0}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {count, 1}
`)

func NewRedisLimiter(client redis.UniversalClient, now func() time.Time) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	if length < time.Second {
		length = time.Second
	}
	start, ends := windowBounds(r.now(), length)

	// the key outlives its window slightly so clock skew between
	// instances cannot restart a counter early
	expiry := ends.Sub(start) + time.Second
	reply, err := admitScript.Run(ctx, r.client, []string{windowKey(key, start)}, limit, expiry.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	if len(reply) != 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit reply")
	}
	count, admitted := int(reply[0]), reply[1] == 1
	if !admitted {
		return domain.RateLimitDecision{Limit: limit, ResetAt: ends}, nil
	}
	return domain.RateLimitDecision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   ends,
	}, nil
}

// windowBounds returns the fixed window containing now.
func windowBounds(now time.Time, length time.Duration) (time.Time, time.Time) {
	start := now.Truncate(length)
	return start, start.Add(length)
}

// windowKey namespaces a domain.RateLimitKey by window start, so each
// window gets a fresh counter.
func windowKey(key string, start time.Time) string {
	return redisKeyPrefix + key + ":" + strconv.FormatInt(start.Unix(), 10)
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
