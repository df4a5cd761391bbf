package middleware

import (
	"fmt"
	"net/http"
	"time"

	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/metrics"
	"collab-notes-server/pkg/response"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitMiddleware is a fixed-window limiter shared by every
// server instance pointed at the same Redis. Each window admits
// rps*window+burst requests per key. A nil client falls back to the
// in-memory limiter.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) func(http.Handler) http.Handler {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	windowSeconds := int(window.Seconds())
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	allowedPerWindow := int(rps*float64(windowSeconds)) + burst

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bucket := time.Now().Unix() / int64(windowSeconds)
			key := fmt.Sprintf("rl:%s:%d", rateLimitKey(r), bucket)

			cnt, err := client.Incr(r.Context(), key).Result()
			if err != nil {
				logger.Errorf("rate limit check failed: %v", err)
				response.InternalError(w, "Rate limit check failed")
				return
			}
			if cnt == 1 {
				_ = client.Expire(r.Context(), key, time.Duration(windowSeconds+1)*time.Second).Err()
			}
			if int(cnt) > allowedPerWindow {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
				metrics.RateLimitRejected.WithLabelValues("redis").Inc()
				response.TooManyRequests(w, "Rate limit exceeded")
				return
			}
			metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
			next.ServeHTTP(w, r)
		})
	}
}
