package hooks

import (
	"sync"
	"time"

	"agentmem/internal/clock"
)

// tokenBucket is a simple per-hook rate limiter. Capacity equals the per-minute limit; it refills
// continuously at limit/60 tokens per second.
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	refill   float64 // tokens per second
	last     time.Time
}

func newTokenBucket(perMinute int, now time.Time) *tokenBucket {
	return &tokenBucket{
		capacity: float64(perMinute),
		tokens:   float64(perMinute),
		refill:   float64(perMinute) / 60.0,
		last:     now,
	}
}

// Allow reports whether a token is available at `now`, consuming one if so.
func (b *tokenBucket) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// rateLimiter holds one tokenBucket per hook id.
type rateLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	perMin  int
	buckets map[ID]*tokenBucket
}

func newRateLimiter(c clock.Clock, perMin int) *rateLimiter {
	return &rateLimiter{clock: c, perMin: perMin, buckets: make(map[ID]*tokenBucket)}
}

func (r *rateLimiter) Allow(hookID ID) bool {
	r.mu.Lock()
	b, ok := r.buckets[hookID]
	if !ok {
		b = newTokenBucket(r.perMin, r.clock.Now())
		r.buckets[hookID] = b
	}
	r.mu.Unlock()
	return b.Allow(r.clock.Now())
}
