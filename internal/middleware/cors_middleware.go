package middleware

import (
	"net/http"
	"strings"
)

type originSet struct {
	wildcard bool
	origins  map[string]bool
}

func parseOrigins(allowedOrigins string) originSet {
	set := originSet{origins: make(map[string]bool)}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			set.wildcard = true
		}
		if o != "" {
			set.origins[o] = true
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	return s.wildcard || s.origins[origin]
}

// AllowOrigin reports whether an Origin header value matches the comma
// separated allow list.
func AllowOrigin(allowedOrigins string) func(origin string) bool {
	return parseOrigins(allowedOrigins).allows
}

func CORSMiddleware(allowedOrigins, allowedMethods, allowedHeaders string) func(http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case origin != "" && origins.allows(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			case origin == "" && origins.wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
