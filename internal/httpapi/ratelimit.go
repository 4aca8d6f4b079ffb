package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/retailvision/trinetra/internal/ratelimit"
)

// Limiter is ratelimit.Limiter narrowed to the single global-IP check the
// internal control endpoints need; the teacher's per-user/per-login tiers
// don't apply once tenant/user auth is out of scope.
type Limiter struct {
	inner *ratelimit.Limiter
}

func NewLimiter(inner *ratelimit.Limiter) *Limiter { return &Limiter{inner: inner} }

// RateLimit caps requests per source IP to rate per window, failing open
// (logging only) if Redis is unreachable, same policy as the teacher's
// non-auth endpoints.
func RateLimit(l *Limiter, rate int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || l.inner == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			key := fmt.Sprintf("rl:internal:%s", l.inner.HashIP(ip))

			decision, err := l.inner.CheckRateLimit(r.Context(), ratelimit.ScopeInternalControl, key, ratelimit.LimitConfig{Rate: rate, Window: window})
			if err == ratelimit.ErrRedisUnavailable {
				log.Printf("httpapi: rate limiter redis unavailable, failing open: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				log.Printf("httpapi: rate limiter error, failing open: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}
