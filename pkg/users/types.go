package users

import (
	"errors"
	"time"

	"github.com/elbethel/academy/pkg/auth"
	"github.com/elbethel/academy/pkg/rbac"
)

var (
	// ErrNotFound is returned when no user matches the lookup
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when the username or email is already taken
	ErrDuplicate = errors.New("user already exists")
)

// User is an account record. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         rbac.Role `json:"role"`
	IsActive     bool      `json:"isActive"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Identity returns the session view of the user
func (u *User) Identity() *auth.Identity {
	return &auth.Identity{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Username: u.Username,
		Role:     u.Role,
		IsActive: u.IsActive,
	}
}

// NewUserRequest carries the fields needed to create an account
type NewUserRequest struct {
	Username string
	Email    string
	Name     string
	Password string
	Role     rbac.Role
}
