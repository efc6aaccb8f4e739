package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle keeps one token bucket per key. It guards the unauthenticated
// endpoints; metered tools use the request log instead.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewThrottle allows burst requests per key, refilled evenly over per.
func NewThrottle(burst int, per time.Duration) *Throttle {
	return &Throttle{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(per / time.Duration(burst)),
		burst:    burst,
		idle:     per,
		now:      time.Now,
	}
}

// Allow reports whether key may make another request now.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	v, ok := t.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Cleanup forgets keys idle for longer than the refill period.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, v := range t.visitors {
		if now.Sub(v.lastSeen) > t.idle {
			delete(t.visitors, key)
		}
	}
}

func (t *Throttle) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visitors)
}

// RateLimit returns middleware that throttles requests by a key function.
func RateLimit(t *Throttle, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !t.Allow(keyFunc(r)) {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":   "RATE_LIMITED",
					"message": "Too many requests, please slow down",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
