package user

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PasswordHash  *string    `json:"-"` // nil for OAuth-only accounts
	Role          Role       `json:"role"`
	EmailVerified *time.Time `json:"email_verified"` // nil until verified
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasPassword reports whether credential login applies to this user.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// IsVerified reports whether the user's email has been confirmed, either by
// the verification flow or transitively through account linking.
func (u *User) IsVerified() bool {
	return u.EmailVerified != nil
}
