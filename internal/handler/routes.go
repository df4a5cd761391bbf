package handler

import (
	"net/http"

	"collab-notes-server/internal/middleware"

	"github.com/gorilla/mux"
)

type Routes struct {
	Auth      *AuthHandler
	User      *UserHandler
	Note      *NoteHandler
	WebSocket *WebSocketHandler
	Resolver  middleware.IdentityResolver

	// Global middleware, applied in order.
	Middleware []mux.MiddlewareFunc
	// RateLimit wraps the API routes when set.
	RateLimit func(http.Handler) http.Handler
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()
	for _, mw := range rt.Middleware {
		r.Use(mw)
	}

	api := r.PathPrefix("/api").Subrouter()

	public := api.PathPrefix("/auth").Subrouter()
	if rt.RateLimit != nil {
		public.Use(rt.RateLimit)
	}

	public.HandleFunc("/register", rt.Auth.Register).Methods("POST", "OPTIONS")
	public.HandleFunc("/login", rt.Auth.Login).Methods("POST", "OPTIONS")
	public.HandleFunc("/refresh-token", rt.Auth.Refresh).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(rt.Resolver))
	if rt.RateLimit != nil {
		// runs after auth so buckets are per user
		protected.Use(rt.RateLimit)
	}

	protected.HandleFunc("/users/me", rt.User.GetMe).Methods("GET", "OPTIONS")

	protected.HandleFunc("/notes", rt.Note.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/notes", rt.Note.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}", rt.Note.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/notes/{id}", rt.Note.Update).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/notes/{id}", rt.Note.Delete).Methods("DELETE", "OPTIONS")
	protected.HandleFunc("/notes/{id}/versions", rt.Note.History).Methods("GET", "OPTIONS")
	protected.HandleFunc("/versions/{id}", rt.Note.GetVersion).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws", rt.WebSocket.HandleConnection)
	r.HandleFunc("/health", healthHandler).Methods("GET")
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods("GET")
	}

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"collab-notes-server"}`))
}
