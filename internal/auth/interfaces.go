package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rvasek/authbridge/internal/account"
	"github.com/rvasek/authbridge/internal/session"
	"github.com/rvasek/authbridge/internal/token"
	"github.com/rvasek/authbridge/internal/user"
)

// UserStore defines the user persistence operations the auth flows need.
// Implemented by user.Repository.
type UserStore interface {
	Create(ctx context.Context, params user.NewParams) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	MarkEmailVerified(ctx context.Context, userID uuid.UUID, when time.Time) error
}

// AccountStore defines identity link persistence. Implemented by
// account.Repository.
type AccountStore interface {
	Create(ctx context.Context, acct *account.Account) (*account.Account, error)
	GetByProvider(ctx context.Context, provider, providerAccountID string) (*account.Account, error)
	GetByUserAndProvider(ctx context.Context, userID uuid.UUID, provider string) (*account.Account, error)
	LinkToUser(ctx context.Context, acct *account.Account, markVerified bool) (*account.Account, error)
}

// TokenStore is the single-use token contract (issue replaces any live token
// for the email; consume is idempotent delete). Implemented by token.Store.
type TokenStore interface {
	Issue(ctx context.Context, email string, payload []byte) (*token.Token, error)
	Lookup(ctx context.Context, value string) (*token.Token, error)
	Consume(ctx context.Context, value string) error
	TTL() time.Duration
}

// SessionManager defines the session operations the auth flows need.
// Implemented by session.Manager.
type SessionManager interface {
	Create(ctx context.Context, userID uuid.UUID) (*session.Session, error)
	Lookup(ctx context.Context, token string) (*session.Session, error)
	Refresh(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string) error
}

// EmailService defines the interface for email operations
type EmailService interface {
	SendVerificationEmail(ctx context.Context, toEmail, token string) error
}

// RateLimiter applies per-IP request budgets, partitioned by purpose so a
// burst of login attempts doesn't starve registration. Implemented by
// ratelimit.Limiter.
type RateLimiter interface {
	CheckIPRateLimitWithPurpose(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequestWithPurpose(ctx context.Context, ip, purpose string) error
}
