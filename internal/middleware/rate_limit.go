package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"collab-notes-server/pkg/metrics"
	"collab-notes-server/pkg/response"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware enforces a token bucket per key. The key is the
// authenticated user when the auth middleware already ran, else the
// client IP. rps is the refill rate and burst the bucket size.
func RateLimitMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	var limiters sync.Map // map[string]*rate.Limiter

	get := func(key string) *rate.Limiter {
		if v, ok := limiters.Load(key); ok {
			return v.(*rate.Limiter)
		}
		v, _ := limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(rps), burst))
		return v.(*rate.Limiter)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !get(rateLimitKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				metrics.RateLimitRejected.WithLabelValues("memory").Inc()
				response.TooManyRequests(w, "Rate limit exceeded")
				return
			}
			metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if id := GetUserID(r); id != "" {
		return "user:" + id
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
