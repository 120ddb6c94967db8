package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/costory/costory/internal/httputil"
)

// RateLimiter is a per-caller token bucket. Callers are keyed by
// authenticated user id, or by remote address before authentication.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type entry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter allows perMinute requests per caller with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	if rl.lastSweep.IsZero() {
		rl.lastSweep = now
	} else if now.Sub(rl.lastSweep) > rl.idle {
		rl.sweep(now)
		rl.lastSweep = now
	}
	e, ok := rl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.seen = now
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// sweep drops callers idle longer than rl.idle. Caller holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for k, e := range rl.limiters {
		if now.Sub(e.seen) > rl.idle {
			delete(rl.limiters, k)
		}
	}
}

// Middleware returns a chi middleware that answers 429 over the limit.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserID(r.Context())
			if key == "" {
				key = remoteHost(r)
			}
			if !rl.Allow(key) {
				retry := time.Duration(float64(time.Second) / float64(rl.rate))
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				httputil.ErrorWithCode(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
