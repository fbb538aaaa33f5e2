package middleware

import (
	"encoding/json"
	"net/http"
	"sync"

	pkgmw "github.com/kloudping-venkat/DevopsMate/pkg/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per principal. Anonymous callers share
// one bucket keyed by remote address.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Handler returns the rate-limiting middleware.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rps <= 0 || isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		key := "addr:" + r.RemoteAddr
		if id := pkgmw.GetIdentity(r.Context()); id != nil {
			key = "principal:" + id.Principal.ID
		}
		if !rl.limiter(key).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
