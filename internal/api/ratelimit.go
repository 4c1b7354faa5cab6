package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tasktalk/tasktalk/internal/log"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterStaleThreshold  = 10 * time.Minute
)

// rateLimiter applies a per-client token bucket. Clients are keyed by
// the declared user identity when present, falling back to the remote
// IP for unauthenticated endpoints. Stale entries are swept inline.
type rateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*client
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second with
// the given burst capacity.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		clients:     make(map[string]*client),
		limit:       rate.Limit(r),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if now.Sub(rl.lastCleanup) > rateLimiterCleanupInterval {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > rateLimiterStaleThreshold {
				delete(rl.clients, k)
			}
		}
		rl.lastCleanup = now
	}

	c, exists := rl.clients[key]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[key] = &client{limiter: limiter, lastSeen: now}
		limiter.Allow()
		return true
	}

	c.lastSeen = now
	return c.limiter.Allow()
}

func rateLimitMiddleware(rl *rateLimiter, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !rl.allow(key) {
				logger.Warn("rate limit exceeded",
					"client", key,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if uid := r.Header.Get(userIDHeader); uid != "" {
		return "user:" + uid
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + ip
}
