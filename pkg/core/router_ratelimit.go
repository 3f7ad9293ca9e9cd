package core

import (
	"net/http"
	"strconv"
	"sync"

	manifest "github.com/joeydtaylor/steeze-applink/pkg/manifest"
	"github.com/joeydtaylor/steeze-applink/pkg/middleware/auth"
	"golang.org/x/time/rate"
)

const maxLimiters = 10000

// rateLimiter keeps one token bucket per invoking org, falling back to the
// remote address for anonymous callers.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(rl manifest.RateLimit) *rateLimiter {
	burst := rl.Burst
	if burst <= 0 {
		burst = max(rl.RPS, 1)
	}
	return &rateLimiter{
		limiters: map[string]*rate.Limiter{},
		rate:     rate.Limit(rl.RPS),
		burst:    burst,
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = map[string]*rate.Limiter{}
		}
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func withRateLimit(next http.HandlerFunc, rl *rateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := auth.UserFromContext(r.Context()).OrgID
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.get(key).Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(rl.rate)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func retryAfter(l rate.Limit) int {
	if l <= 0 || l >= 1 {
		return 1
	}
	return int(1/float64(l)) + 1
}
