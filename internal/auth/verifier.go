package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rvasek/authbridge/internal/user"
)

// Verifier validates an email/password pair against stored user records.
type Verifier struct {
	users UserStore
}

func NewVerifier(users UserStore) *Verifier {
	return &Verifier{users: users}
}

// Verify checks the credentials and returns the user on success. The check
// order is load-bearing: the verification gate runs before the password
// comparison, so an unverified account answers identically for right and
// wrong passwords and can't be used as a password oracle.
func (v *Verifier) Verify(ctx context.Context, email, password string) (*user.User, error) {
	u, err := v.users.GetByEmail(ctx, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// OAuth-only accounts have no digest; credential login does not apply.
	if !u.HasPassword() {
		return nil, ErrInvalidCredentials
	}

	if !u.IsVerified() {
		return nil, ErrEmailNotVerified
	}

	if !VerifyPassword(*u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}
