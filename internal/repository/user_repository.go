package repository

import (
	"context"
	"fmt"
	"net/http"

	"collab-notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type UserRepository interface {
	// Create fails with ErrDuplicate when the username is taken.
	Create(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

type couchUser struct {
	DocType string `json:"doc_type"`
	domain.User
}

// usernameClaim reserves a username; its document id is the uniqueness key.
type usernameClaim struct {
	DocType string `json:"doc_type"`
	UserID  string `json:"user_id"`
}

type userRepository struct {
	client *kivik.Client
	dbName string
}

func NewUserRepository(client *kivik.Client, dbName string) UserRepository {
	return &userRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	db := r.client.DB(r.dbName)

	claim := usernameClaim{DocType: docTypeUsername, UserID: user.ID}
	if _, err := db.Put(ctx, fmt.Sprintf("username:%s", user.Username), claim); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to reserve username: %w", err)
	}

	doc := couchUser{DocType: docTypeUser, User: *user}
	if _, err := db.Put(ctx, fmt.Sprintf("user:%s", user.ID), doc); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	var doc couchUser
	if err := db.Get(ctx, fmt.Sprintf("user:%s", id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &doc.User, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	var claim usernameClaim
	if err := db.Get(ctx, fmt.Sprintf("username:%s", username)).ScanDoc(&claim); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user by username: %w", err)
	}

	return r.FindByID(ctx, claim.UserID)
}

func (r *userRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	if err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
