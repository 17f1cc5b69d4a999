package webhooks

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket per endpoint. A zero limit allows
// everything.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	limit   int
	period  time.Duration
	now     func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows limit deliveries per period for each key
func NewRateLimiter(limit int, period time.Duration) *RateLimiter {
	if period <= 0 {
		period = time.Minute
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}
}

// Allow takes one token for key
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: rl.limit, lastRefill: now}
		rl.buckets[key] = b
	}

	// One token per period/limit elapsed.
	interval := rl.period / time.Duration(rl.limit)
	if interval > 0 {
		if gained := int(now.Sub(b.lastRefill) / interval); gained > 0 {
			b.tokens = min(b.tokens+gained, rl.limit)
			b.lastRefill = b.lastRefill.Add(time.Duration(gained) * interval)
		}
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}
