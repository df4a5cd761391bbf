package service

import (
	"context"
	"errors"

	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/repository"
	"collab-notes-server/pkg/jwt"
)

// IdentityService turns an access token into the identity of a user that
// still exists. Both the HTTP middleware and the WebSocket handshake go
// through it.
type IdentityService struct {
	userRepo repository.UserRepository
	secret   string
}

func NewIdentityService(userRepo repository.UserRepository, accessSecret string) *IdentityService {
	return &IdentityService{userRepo: userRepo, secret: accessSecret}
}

func (s *IdentityService) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, &AuthenticationError{Reason: "missing token"}
	}

	claims, err := jwt.ValidateToken(token, s.secret)
	if err != nil {
		return nil, &AuthenticationError{Reason: "invalid or expired token"}
	}
	if claims.TokenType != jwt.TokenTypeAccess {
		return nil, &AuthenticationError{Reason: "invalid token type"}
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AuthenticationError{Reason: "user no longer exists"}
		}
		return nil, &PersistenceError{Op: "load user", Err: err}
	}

	id := user.Identity()
	return &id, nil
}
