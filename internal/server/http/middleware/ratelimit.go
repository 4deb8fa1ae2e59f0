// Package middleware provides HTTP middleware for the device API.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter defaults.
const (
	DefaultMaxRequests = 30
	DefaultWindow      = time.Minute
	cleanupInterval    = 5 * time.Minute
)

// RateLimiter is a sliding-window limiter keyed by client.
type RateLimiter struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithMaxRequests sets the number of requests allowed per window.
func WithMaxRequests(n int) RateLimiterOption {
	return func(r *RateLimiter) {
		if n > 0 {
			r.maxRequests = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.window = d
		}
	}
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		maxRequests: DefaultMaxRequests,
		window:      DefaultWindow,
		buckets:     make(map[string][]time.Time),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.cleanupLoop()
	return r
}

// Allow records a request for key. It returns false with the time until
// the oldest request leaves the window when the key is over its limit.
func (r *RateLimiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	hits := prune(r.buckets[key], now.Add(-r.window))

	if len(hits) >= r.maxRequests {
		r.buckets[key] = hits
		return false, 0, hits[0].Add(r.window).Sub(now)
	}
	hits = append(hits, now)
	r.buckets[key] = hits
	return true, r.maxRequests - len(hits), 0
}

// Limit returns the configured requests per window.
func (r *RateLimiter) Limit() int {
	return r.maxRequests
}

// Close stops the cleanup loop.
func (r *RateLimiter) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window)
	for key, hits := range r.buckets {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(r.buckets, key)
		} else {
			r.buckets[key] = hits
		}
	}
}

// prune drops timestamps at or before cutoff. hits is sorted.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// KeyFunc derives the limiter key for a request.
type KeyFunc func(*http.Request) string

// ClientIP keys by remote address. Forwarding headers are honoured only
// when trustProxy is set.
func ClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				return strings.TrimSpace(first)
			}
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				return strings.TrimSpace(xri)
			}
		}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
}

// SubjectOrIP keys authenticated requests by token subject.
func SubjectOrIP(trustProxy bool) KeyFunc {
	ip := ClientIP(trustProxy)
	return func(r *http.Request) string {
		if c, ok := ClaimsFrom(r.Context()); ok && c.Subject != "" {
			return "sub:" + c.Subject
		}
		return ip(r)
	}
}

// RateLimit returns middleware that answers 429 once a key is over its limit.
func RateLimit(limiter *RateLimiter, key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP(false)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, remaining, retryAfter := limiter.Allow(key(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !ok {
				secs := int(retryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
