// Package ratelimit applies per-client request limits using token buckets.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/trustgate/internal/middleware/realip"
)

// Config holds the rate limiting settings.
type Config struct {
	// Enabled turns the limiter on.
	Enabled bool
	// RequestsPerMin is the sustained per-client rate.
	RequestsPerMin int
	// BurstSize is the bucket capacity.
	BurstSize int
	// CleanupMinutes is both the eviction interval and the idle cutoff.
	CleanupMinutes int
}

// visitor pairs a client's bucket with its last activity for eviction.
type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands each client address its own token bucket. Idle
// clients are evicted so the map stays bounded by active traffic.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	maxIdle  time.Duration
	stop     chan struct{}
}

// New creates a RateLimiter and starts its eviction loop.
func New(cfg Config) *RateLimiter {
	maxIdle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if maxIdle <= 0 {
		maxIdle = 10 * time.Minute
	}

	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(cfg.RequestsPerMin) / 60.0),
		burst:    cfg.BurstSize,
		maxIdle:  maxIdle,
		stop:     make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Stop ends the eviction loop.
func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.maxIdle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictStale()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) evictStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.maxIdle)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *RateLimiter) bucketFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if v, ok := rl.visitors[ip]; ok {
		v.lastSeen = time.Now()
		return v.bucket
	}

	v := &visitor{bucket: rate.NewLimiter(rl.limit, rl.burst), lastSeen: time.Now()}
	rl.visitors[ip] = v
	return v.bucket
}

// exemptPaths never consume rate limit tokens.
var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// Middleware returns the limiting http middleware backed by this limiter.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.bucketFor(realip.GetClientIP(r)).Allow() {
				writeLimitExceeded(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeLimitExceeded(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.Header().Set("X-Rate-Limit-Exceeded", "true")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    "RATE_LIMIT_EXCEEDED",
			"message": "Too many requests. Please try again later.",
		},
	})
}

// Middleware builds a limiter from cfg and returns its middleware, or a
// pass-through when limiting is disabled. The limiter's eviction loop
// runs for the lifetime of the process.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	return New(cfg).Middleware()
}
