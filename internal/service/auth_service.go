package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/repository"
	"collab-notes-server/pkg/jwt"

	"github.com/google/uuid"
)

// PasswordHasher prepares credentials before they are stored.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

type TokenConfig struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

type AuthService struct {
	userRepo repository.UserRepository
	hasher   PasswordHasher
	tokens   TokenConfig
}

func NewAuthService(userRepo repository.UserRepository, hasher PasswordHasher, tokens TokenConfig) *AuthService {
	if tokens.RefreshSecret == "" {
		tokens.RefreshSecret = tokens.AccessSecret
	}
	return &AuthService{
		userRepo: userRepo,
		hasher:   hasher,
		tokens:   tokens,
	}
}

func (s *AuthService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.Identity, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.TrimSpace(req.Username)
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	usernameExists, err := s.userRepo.UsernameExists(ctx, req.Username)
	if err != nil {
		return nil, &PersistenceError{Op: "check username", Err: err}
	}
	if usernameExists {
		return nil, &ConflictError{Reason: "username already taken"}
	}

	hashedPassword, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Username:  req.Username,
		Password:  hashedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &ConflictError{Reason: "username already taken"}
		}
		return nil, &PersistenceError{Op: "create user", Err: err}
	}

	id := user.Identity()
	return &id, nil
}

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "user", ID: req.Username}
		}
		return nil, &PersistenceError{Op: "load user", Err: err}
	}

	if err := s.hasher.Compare(user.Password, req.Password); err != nil {
		return nil, &AuthenticationError{Reason: "invalid credentials"}
	}

	subject := jwt.Subject{UserID: user.ID, Name: user.Name, Username: user.Username}

	accessToken, err := jwt.GenerateToken(subject, s.tokens.AccessTTL, s.tokens.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := jwt.GenerateRefreshToken(subject, s.tokens.RefreshTTL, s.tokens.RefreshSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &domain.LoginResponse{
		User:         user.Identity(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tokens.AccessTTL.Seconds()),
	}, nil
}

func (s *AuthService) Refresh(ctx context.Context, req *domain.RefreshTokenRequest) (*domain.TokenResponse, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	claims, err := jwt.ValidateToken(req.RefreshToken, s.tokens.RefreshSecret)
	if err != nil || claims.TokenType != jwt.TokenTypeRefresh {
		return nil, &AuthenticationError{Reason: "invalid refresh token"}
	}

	user, err := s.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &AuthenticationError{Reason: "user no longer exists"}
		}
		return nil, &PersistenceError{Op: "load user", Err: err}
	}

	subject := jwt.Subject{UserID: user.ID, Name: user.Name, Username: user.Username}
	accessToken, err := jwt.GenerateToken(subject, s.tokens.AccessTTL, s.tokens.AccessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.tokens.AccessTTL.Seconds()),
	}, nil
}
