package recovery

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window counter per contact.
type RedisLimiter struct {
	cache  *redis.Client
	max    int64
	window time.Duration
}

// NewRedisLimiter allows max issuances per contact per window.
func NewRedisLimiter(cache *redis.Client, max int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisLimiter{cache: cache, max: int64(max), window: window}
}

// Allow increments the contact's counter and reports whether it is within
// the limit. Errors are returned so the caller can decide to fail open.
func (l *RedisLimiter) Allow(ctx context.Context, contact string) (bool, error) {
	if l.max <= 0 {
		return true, nil
	}
	key := "rl:recovery:" + contact

	// INCR and EXPIRE NX run in one MULTI so a counter never outlives its
	// window, including keys left without a TTL.
	pipe := l.cache.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= l.max, nil
}
