package middleware

import (
	"net/http"
	"sync/atomic"

	"github.com/contentsquare/counterd/config"
	"golang.org/x/time/rate"
)

// RateLimiter throttles mutating requests (POST, PUT, DELETE, PATCH).
// Limits may be replaced at runtime with Apply.
type RateLimiter struct {
	limiter atomic.Value // *rate.Limiter, nil when disabled

	// onLimited is called for every rejected request
	onLimited func(w http.ResponseWriter, r *http.Request)
}

func NewRateLimiter(cfg config.RateLimit, onLimited func(w http.ResponseWriter, r *http.Request)) *RateLimiter {
	rl := &RateLimiter{onLimited: onLimited}
	rl.Apply(cfg)
	return rl
}

// Apply replaces current limits. Tokens already consumed are forgotten.
func (rl *RateLimiter) Apply(cfg config.RateLimit) {
	var l *rate.Limiter
	if cfg.Enabled() {
		l = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	rl.limiter.Store(&l)
}

// Allow reports whether r may proceed
func (rl *RateLimiter) Allow(r *http.Request) bool {
	if !isMutating(r.Method) {
		return true
	}
	l := *rl.limiter.Load().(**rate.Limiter)
	return l == nil || l.Allow()
}

func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r) {
			rl.onLimited(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	}
	return false
}
