// Package middleware holds the HTTP middleware chain for the API
// server: request logging and per-client rate limiting.
package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig defines the per-client request budget.
type RateLimitConfig struct {
	MaxCallsPerMinute int
	BurstSize         int
}

// RateLimiter enforces a sliding one-minute window per client key.
// Expired windows are garbage-collected in the background.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	cfg     RateLimitConfig
	logger  *slog.Logger
	now     func() time.Time
	done    chan struct{}
}

type window struct {
	count int
	start time.Time
}

// NewRateLimiter builds a rate limiter and starts its cleanup loop.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxCallsPerMinute <= 0 {
		cfg.MaxCallsPerMinute = 600
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute * 2
	}
	rl := &RateLimiter{
		windows: make(map[string]*window),
		cfg:     cfg,
		logger:  slog.Default().With("component", "ratelimit"),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// Allow reports whether another request from key fits in the current
// window.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) > time.Minute {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}
	w.count++
	if w.count > rl.cfg.BurstSize {
		return false
	}
	if w.count > rl.cfg.MaxCallsPerMinute {
		rl.logger.Warn("rate limit exceeded",
			"key", key, "count", w.count, "limit", rl.cfg.MaxCallsPerMinute)
		return false
	}
	return true
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		cutoff := rl.now().Add(-2 * time.Minute)
		rl.mu.Lock()
		for key, w := range rl.windows {
			if w.start.Before(cutoff) {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Handler wraps an http.Handler with the rate limit, keyed by remote
// address.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
