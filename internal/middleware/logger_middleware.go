package middleware

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"collab-notes-server/pkg/logger"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// identitySink lets the auth middleware, which runs after this one, report
// who made the request.
type identitySink struct {
	username string
}

const sinkKey contextKey = "log-sink"

func LoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			sink := &identitySink{}
			r = r.WithContext(context.WithValue(r.Context(), sinkKey, sink))

			next.ServeHTTP(rw, r)

			user := sink.username
			if user == "" {
				user = "anonymous"
			}

			logFn := logger.Infof
			if rw.statusCode >= http.StatusInternalServerError {
				logFn = logger.Errorf
			}
			logFn("[%s] %s %s - Status: %d - Duration: %v - User: %s",
				r.Method,
				r.URL.Path,
				r.RemoteAddr,
				rw.statusCode,
				time.Since(start),
				user,
			)
		})
	}
}
