package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tenderhq/core/internal/database"
	apierrors "github.com/tenderhq/core/internal/pkg/errors"
	"github.com/tenderhq/core/internal/pkg/response"
)

// RateLimiter enforces fixed-window limits keyed by (client IP, route). The
// windows live in Redis so limits hold across replicas; when Redis is down a
// coarse in-process window takes over rather than failing open.
type RateLimiter struct {
	redis  *database.Redis
	window time.Duration

	mu       sync.Mutex
	local    map[string]*localWindow
	lastScan time.Time
}

type localWindow struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a rate limiter with the given window.
func NewRateLimiter(redis *database.Redis, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:  redis,
		window: window,
		local:  make(map[string]*localWindow),
	}
}

// Limit returns a middleware enforcing at most limit requests per window for
// the named route.
func (l *RateLimiter) Limit(route string, limit int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", route, clientIP(r))

			count, err := l.redis.IncrWithExpire(r.Context(), key, l.window)
			if err != nil {
				count = l.incrLocal(key)
			}

			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if int(count) > limit {
				retryAfter := int(l.window.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				response.Error(w, apierrors.NewRateLimited(retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// incrLocal is the degraded path: one fixed window per key in process
// memory. Stale windows are pruned opportunistically.
func (l *RateLimiter) incrLocal(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastScan) > l.window {
		for k, win := range l.local {
			if now.After(win.resetAt) {
				delete(l.local, k)
			}
		}
		l.lastScan = now
	}

	win, ok := l.local[key]
	if !ok || now.After(win.resetAt) {
		win = &localWindow{resetAt: now.Add(l.window)}
		l.local[key] = win
	}
	win.count++
	return int64(win.count)
}

// clientIP extracts the real client IP, considering proxies. Only the first
// hop of X-Forwarded-For is trusted.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
