package domain

import "time"

type User struct {
	ID        string    `json:"id" bson:"id"`
	Name      string    `json:"name" bson:"name"`
	Username  string    `json:"username" bson:"username"`
	Password  string    `json:"password,omitempty" bson:"password"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Identity is the public projection of a user. It is what tokens resolve
// to and what notes embed as owner and collaborators.
type Identity struct {
	ID       string `json:"id" bson:"id"`
	Name     string `json:"name" bson:"name"`
	Username string `json:"username" bson:"username"`
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, Username: u.Username}
}

type RegisterRequest struct {
	Name            string `json:"name" validate:"required,min=3,max=30"`
	Username        string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Password        string `json:"password" validate:"required,password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	User         Identity `json:"user"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
