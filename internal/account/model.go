package account

import (
	"time"

	"github.com/google/uuid"
)

// Account binds one auth method (an identity link) to a user. The token
// fields are opaque provider material and may be absent.
type Account struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"provider_account_id"`
	AccessToken       *string    `json:"-"`
	RefreshToken      *string    `json:"-"`
	TokenType         *string    `json:"-"`
	Scope             *string    `json:"-"`
	IDToken           *string    `json:"-"`
	TokenExpiresAt    *time.Time `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
}
