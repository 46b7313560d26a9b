package middleware

import (
	"sync"
	"time"

	"participation-points/metrics"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

type keyedEntry struct {
	limiter *rate.Limiter
	expires time.Time
}

// KeyedLimiter is a token bucket per key (user id, client IP). Idle buckets
// are dropped after limiterIdleTTL.
type KeyedLimiter struct {
	mu       sync.Mutex
	entries  map[string]*keyedEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
	lastScan time.Time
}

// NewKeyedLimiter allows perMinute events per key. perMinute <= 0 disables limiting.
func NewKeyedLimiter(perMinute int) *KeyedLimiter {
	l := &KeyedLimiter{entries: make(map[string]*keyedEntry), now: time.Now}
	if perMinute <= 0 {
		l.limit = rate.Inf
		l.burst = 1
		return l
	}
	l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	l.burst = max(perMinute/2, 1)
	return l
}

func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastScan) > time.Minute {
		for k, e := range l.entries {
			if now.After(e.expires) {
				delete(l.entries, k)
			}
		}
		l.lastScan = now
	}
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.expires = now.Add(limiterIdleTTL)
	l.mu.Unlock()

	// rate.Limiter is safe for concurrent use
	return e.limiter.AllowN(now, 1)
}

// Len reports how many keys are tracked.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimit rejects requests with 429 once the caller's bucket is empty.
// keyFn defaults to the client IP.
func RateLimit(l *KeyedLimiter, keyFn func(*fiber.Ctx) string) fiber.Handler {
	if keyFn == nil {
		keyFn = func(c *fiber.Ctx) string { return c.IP() }
	}
	return func(c *fiber.Ctx) error {
		if !l.Allow(keyFn(c)) {
			metrics.HTTPRateLimitRejectionsTotal.Inc()
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
