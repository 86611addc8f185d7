package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Fixed window counter per (identifier, action). Heartbeats arrive roughly
// once a minute per open lesson, so a generous window only stops runaway clients.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter counts requests in Redis.
type RateLimiter struct {
	cache  *Cache
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per window.
func NewRateLimiter(c *Cache, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{cache: c, limit: int64(limit), window: window}
}

// Allow reports whether identifier may perform action now.
// A Redis failure allows the request.
func (r *RateLimiter) Allow(ctx context.Context, identifier, action string) (bool, error) {
	n, err := r.cache.IncrWithTTL(ctx, RateLimitKey(r.cache, identifier, action, r.window, time.Now()), r.window)
	if err != nil {
		return true, err
	}
	return n <= r.limit, nil
}

// RateLimitKey buckets the counter by window start so old windows expire on their own.
func RateLimitKey(c *Cache, identifier, action string, window time.Duration, now time.Time) string {
	bucket := now.Truncate(window).Unix()
	return c.Key("ratelimit", action, identifier, fmt.Sprint(bucket))
}

// ══════════════════════════════════════════════════════════════════════════════
// JOB LOCKER
// ══════════════════════════════════════════════════════════════════════════════

// Locker hands out best-effort exclusive locks so that only one worker
// replica runs a given job at a time.
type Locker struct {
	cache *Cache
}

// NewLocker creates a Locker.
func NewLocker(c *Cache) *Locker {
	return &Locker{cache: c}
}

// TryLock acquires resource for ttl. On success the returned release func
// deletes the lock only if it is still ours.
func (l *Locker) TryLock(ctx context.Context, resource string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.NewString()
	key := l.cache.Key("lock", resource)
	ok, err := l.cache.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) error {
		return l.cache.DeleteIfEquals(ctx, key, token)
	}
	return release, true, nil
}
