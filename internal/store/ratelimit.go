// ratelimit.go -- Redis-backed fixed-window rate limiter with lockout.
//
// One counter key per action/window pair plus a lockout key set once the
// threshold is crossed. Shares the Redis client with the cache and the
// mail queue.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter checks and records rate limit state in Redis.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter returns a rate limiter backed by the shared Redis client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// allowScript increments the window counter (setting its expiry on first
// hit) and, when the count crosses the threshold, writes the lockout key.
// Returns 1 if the attempt is allowed, 0 if not.
// KEYS[1] = counter key, KEYS[2] = lockout key
// ARGV[1] = max attempts, ARGV[2] = window seconds, ARGV[3] = lockout seconds
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], 1, 'EX', ARGV[3])
    return 0
end
return 1
`)

// Allow records an attempt for key under the given policy.
// Returns nil if the attempt is within policy, ErrRateLimitExceeded if the
// caller is over the threshold or locked out, and any other error on Redis
// failure (the caller decides whether to fail open or closed).
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}

	cntKey := "ratelimit:cnt:" + key
	lockKey := "ratelimit:lock:" + key

	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{cntKey, lockKey},
		policy.MaxAttempts,
		int(policy.Window.Seconds()),
		int(policy.LockoutTTL.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}
