package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/service"
	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/response"
)

type contextKey string

const IdentityKey contextKey = "identity"

// IdentityResolver is satisfied by service.IdentityService.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

func AuthMiddleware(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			token, ok := BearerToken(authHeader)
			if !ok {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			identity, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				var aerr *service.AuthenticationError
				if errors.As(err, &aerr) {
					response.Unauthorized(w, "Invalid or expired token")
					return
				}
				logger.Errorf("failed to resolve identity: %v", err)
				response.InternalError(w, "Failed to authenticate request")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func WithIdentity(ctx context.Context, identity *domain.Identity) context.Context {
	if sink, ok := ctx.Value(sinkKey).(*identitySink); ok && identity != nil {
		sink.username = identity.Username
	}
	return context.WithValue(ctx, IdentityKey, identity)
}

func GetIdentity(r *http.Request) (*domain.Identity, bool) {
	identity, ok := r.Context().Value(IdentityKey).(*domain.Identity)
	return identity, ok && identity != nil
}

func GetUserID(r *http.Request) string {
	identity, ok := GetIdentity(r)
	if !ok {
		return ""
	}
	return identity.ID
}
