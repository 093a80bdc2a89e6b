package toolexec

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-user token-bucket budget of max_calls_per_minute.
// Each user gets their own *rate.Limiter, created lazily: burst equals the
// full per-minute budget (so a user's first call of the window is never
// penalized) and the refill rate spreads that budget evenly across the
// minute, approximating the spec's "60-second sliding window" with a
// continuously-refilling bucket rather than a literal timestamp log.
type RateLimiter struct {
	maxCallsPerMinute int
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
}

// NewRateLimiter constructs a RateLimiter with the given per-user budget.
func NewRateLimiter(maxCallsPerMinute int) *RateLimiter {
	return &RateLimiter{
		maxCallsPerMinute: maxCallsPerMinute,
		limiters:          make(map[string]*rate.Limiter),
	}
}

// Allow reports whether userID may execute a call right now, consuming one
// token from their bucket if so. An empty userID shares a single anonymous
// bucket.
func (rl *RateLimiter) Allow(userID string) bool {
	return rl.limiterFor(userID).Allow()
}

func (rl *RateLimiter) limiterFor(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[userID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.maxCallsPerMinute)), rl.maxCallsPerMinute)
	rl.limiters[userID] = l
	return l
}
