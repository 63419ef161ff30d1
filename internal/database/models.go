package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the users table. Email is stored lowercased; PasswordHash is nil
// for OAuth-only accounts.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid,nullzero,default:gen_random_uuid()"`
	Email           string     `bun:"email,notnull,unique"`
	Name            string     `bun:"name,notnull,default:''"`
	PasswordHash    *string    `bun:"password_hash"`
	Role            string     `bun:"role,notnull,default:'user'"`
	EmailVerifiedAt *time.Time `bun:"email_verified_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull,nullzero,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,nullzero,default:current_timestamp"`
}

// Account is one external or local auth method bound to a user.
// (provider, provider_account_id) is globally unique; a user holds at most
// one account per provider.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID                uuid.UUID  `bun:"id,pk,type:uuid,nullzero,default:gen_random_uuid()"`
	UserID            uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	Provider          string     `bun:"provider,notnull"`
	ProviderAccountID string     `bun:"provider_account_id,notnull"`
	AccessToken       *string    `bun:"access_token"`
	RefreshToken      *string    `bun:"refresh_token"`
	TokenType         *string    `bun:"token_type"`
	Scope             *string    `bun:"scope"`
	IDToken           *string    `bun:"id_token"`
	TokenExpiresAt    *time.Time `bun:"token_expires_at"`
	CreatedAt         time.Time  `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}

// Session is a server-side session row referenced by the hash of the cookie
// token. The plaintext token never touches the database.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,nullzero,default:gen_random_uuid()"`
	TokenHash string    `bun:"token_hash,notnull,unique"`
	UserID    uuid.UUID `bun:"user_id,notnull,type:uuid"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,nullzero,default:current_timestamp"`
}
