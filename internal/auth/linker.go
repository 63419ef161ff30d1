package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rvasek/authbridge/internal/account"
	"github.com/rvasek/authbridge/internal/logging"
	"github.com/rvasek/authbridge/internal/user"
)

// LinkAccountPath is where the browser is sent to prove ownership of the
// colliding credential account.
const LinkAccountPath = "/auth/link-account"

// postLinkRedirect is where a completed link sends the user.
const postLinkRedirect = "/auth/login?linked=1"

// LinkChallenge is the redirect directive returned instead of a session when
// an OAuth sign-in collides with an existing credential account.
type LinkChallenge struct {
	Email      string
	Token      string
	ExpiresAt  time.Time
	RedirectTo string
}

// LinkResult is the outcome of a completed link.
type LinkResult struct {
	UserID     uuid.UUID
	Account    *account.Account
	RedirectTo string
}

// Linker drives the account-linking protocol: an OAuth identity asserting an
// email that already belongs to a credential user must not be attached until
// the user re-proves ownership with the original password.
type Linker struct {
	tokens   TokenStore // link-account namespace, 10 minute TTL
	users    UserStore
	accounts AccountStore
	logger   *logging.Logger
}

func NewLinker(tokens TokenStore, users UserStore, accounts AccountStore, logger *logging.Logger) *Linker {
	return &Linker{
		tokens:   tokens,
		users:    users,
		accounts: accounts,
		logger:   logger,
	}
}

// Begin records the collision: it issues a link-account token carrying the
// pending OAuth account as its payload and returns the redirect that
// suspends the sign-in. No identity link is created here.
func (l *Linker) Begin(ctx context.Context, email string, pending *PendingAccount) (*LinkChallenge, error) {
	if !pending.Complete() {
		return nil, ErrLinkMissingAccountData
	}

	payload, err := pending.Encode()
	if err != nil {
		return nil, err
	}

	email = strings.ToLower(email)
	t, err := l.tokens.Issue(ctx, email, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to issue link token: %w", err)
	}

	l.logger.Info("account link required",
		"email", email,
		"provider", pending.Provider,
	)

	query := url.Values{}
	query.Set("email", email)
	query.Set("token", t.Value)

	return &LinkChallenge{
		Email:      email,
		Token:      t.Value,
		ExpiresAt:  t.ExpiresAt,
		RedirectTo: LinkAccountPath + "?" + query.Encode(),
	}, nil
}

// Complete finishes the linking flow. The checks run in a fixed order and
// the first failure aborts with its own sentinel; the token survives failed
// attempts and is consumed only after the link is committed.
func (l *Linker) Complete(ctx context.Context, email, password, tokenValue string) (*LinkResult, error) {
	email = strings.ToLower(email)

	// 1. Token must exist, be live, and belong to the submitted email.
	t, err := l.tokens.Lookup(ctx, tokenValue)
	if err != nil {
		if isTokenNotFound(err) {
			return nil, ErrLinkTokenInvalid
		}
		return nil, fmt.Errorf("failed to look up link token: %w", err)
	}
	if !strings.EqualFold(t.Email, email) {
		return nil, ErrLinkTokenInvalid
	}

	// 2. The credential account being claimed must exist.
	u, err := l.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrLinkAccountNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !u.HasPassword() {
		return nil, ErrLinkAccountNotFound
	}

	// 3. Ownership proof.
	if !VerifyPassword(*u.PasswordHash, password) {
		return nil, ErrLinkPasswordInvalid
	}

	// 4. The stashed OAuth account must still be usable.
	pending, err := DecodePendingAccount(t.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pending account: %w", err)
	}
	if !pending.Complete() {
		return nil, ErrLinkMissingAccountData
	}

	// 5. Create the identity link and transfer verification trust in one
	// transaction. A resubmitted form after a committed link is treated as
	// linked: the pre-check catches it cheaply, and the
	// (provider, provider_account_id) constraint catches the race the
	// pre-check can miss.
	acct, err := l.accounts.GetByUserAndProvider(ctx, u.ID, pending.Provider.String())
	if err == nil && acct.ProviderAccountID == pending.ProviderAccountID {
		if err := l.tokens.Consume(ctx, tokenValue); err != nil {
			l.logger.Warn("failed to consume link token", "error", err.Error())
		}
		return &LinkResult{
			UserID:     u.ID,
			Account:    acct,
			RedirectTo: postLinkRedirect,
		}, nil
	}
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing identity link: %w", err)
	}

	acct, err = l.accounts.LinkToUser(ctx, pending.Account(u.ID), !u.IsVerified())
	if err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			l.logger.Warn("link already exists, treating as linked",
				"user_id", u.ID,
				"provider", pending.Provider,
			)
		} else {
			return nil, fmt.Errorf("failed to create identity link: %w", err)
		}
	}

	// Terminal, single-use. A consume failure after commit is logged, not
	// surfaced; the token expires on its own within minutes.
	if err := l.tokens.Consume(ctx, tokenValue); err != nil {
		l.logger.Warn("failed to consume link token", "error", err.Error())
	}

	l.logger.Info("account linked",
		"user_id", u.ID,
		"provider", pending.Provider,
	)

	return &LinkResult{
		UserID:     u.ID,
		Account:    acct,
		RedirectTo: postLinkRedirect,
	}, nil
}
