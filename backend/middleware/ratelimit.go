package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PhilHem/villa-auth/backend/audit"
	"github.com/PhilHem/villa-auth/backend/guard"

	"go.uber.org/zap"
)

// RateLimiter limits requests per client address with a fixed window kept
// in a guard.Tracker, so several instances sharing Redis share the limit.
type RateLimiter struct {
	tracker    guard.Tracker
	limit      int64
	window     time.Duration
	trustProxy bool
	audit      *audit.Logger
}

func NewRateLimiter(tracker guard.Tracker, limit int, window time.Duration, trustProxy bool) *RateLimiter {
	return &RateLimiter{
		tracker:    tracker,
		limit:      int64(limit),
		window:     window,
		trustProxy: trustProxy,
		audit:      audit.Nop(),
	}
}

// WithAudit reports rejected requests to a.
func (rl *RateLimiter) WithAudit(a *audit.Logger) *RateLimiter {
	rl.audit = a
	return rl
}

// ClientIP returns the request's source address. X-Forwarded-For is only
// honoured behind a trusted proxy, and then only its last hop: the address
// the proxy itself appended. Entries to its left are client supplied.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if hops := r.Header.Values("X-Forwarded-For"); len(hops) > 0 {
			last := hops[len(hops)-1]
			if i := strings.LastIndex(last, ","); i >= 0 {
				last = last[i+1:]
			}
			if ip := strings.TrimSpace(last); ip != "" {
				return ip
			}
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Limit returns a middleware that rate limits requests. When the tracker
// fails the request is let through and the error logged.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, rl.trustProxy)

		n, ttl, err := rl.tracker.Increment(r.Context(), "rate:"+ip, rl.window)
		if err != nil {
			slog.Error("rate limiter unavailable", "source", "ratelimit", "ip", ip, "error", err.Error())
			next.ServeHTTP(w, r)
			return
		}

		if n > rl.limit {
			slog.Warn("rate limited", "source", "ratelimit", "ip", ip, "path", r.URL.Path)
			rl.audit.LogEvent(audit.RateLimited, zap.String("ip", ip), zap.String("path", r.URL.Path))
			TooManyRequests(w, ttl)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// TooManyRequests writes the 429 body with a Retry-After in whole seconds.
func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limited"}` + "\n"))
}
