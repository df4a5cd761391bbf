package service

import (
	"context"
	"errors"

	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/repository"
)

type UserService struct {
	userRepo repository.UserRepository
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "user", ID: id}
		}
		return nil, &PersistenceError{Op: "load user", Err: err}
	}

	user.Password = ""
	return user, nil
}
