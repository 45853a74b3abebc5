package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/observability"
)

// RateLimiter is a fixed-window per-client limiter backed by Redis, meant
// for the login and password-forgot endpoints. When Redis is unreachable
// it fails open: availability of login beats strictness of the limit.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *observability.Logger
}

// NewRateLimiter builds a limiter allowing limit requests per client per
// window. prefix namespaces the counters per protected endpoint.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, prefix string, logger *observability.Logger) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window, prefix: prefix, logger: logger}
}

// Handler wraps next with the limit keyed by client IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := fmt.Sprintf("ratelimit:%s:%s", rl.prefix, clientIP(r))

		pipe := rl.client.TxPipeline()
		count := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, rl.window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			rl.logger.WithError(err).Warn("rate limit counter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(rl.limit) - count.Val()
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count.Val() > int64(rl.limit) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			httputil.WriteTooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
