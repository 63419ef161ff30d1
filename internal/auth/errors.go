package auth

import (
	"errors"

	"github.com/rvasek/authbridge/internal/token"
)

var (
	// Credential sign-in. Unknown email, OAuth-only account, and wrong
	// password all collapse into ErrInvalidCredentials so responses cannot
	// be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified, please check your inbox")

	// Registration validation.
	ErrEmailRequired      = errors.New("email is required")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrPasswordMismatch   = errors.New("passwords do not match")

	// Email verification.
	ErrVerificationTokenInvalid = errors.New("invalid or expired verification token")

	// Account linking, one sentinel per ordered check.
	ErrLinkTokenInvalid       = errors.New("invalid or expired token")
	ErrLinkAccountNotFound    = errors.New("account not found")
	ErrLinkPasswordInvalid    = errors.New("invalid password")
	ErrLinkMissingAccountData = errors.New("missing account data")

	ErrUnknownProvider = errors.New("unknown provider")
)

func isTokenNotFound(err error) bool {
	return errors.Is(err, token.ErrNotFound)
}
