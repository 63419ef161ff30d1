package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rvasek/authbridge/internal/database"
)

var (
	ErrNotFound  = errors.New("account not found")
	ErrDuplicate = errors.New("account already linked")
)

// Repository handles identity link persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new identity link. The (provider, provider_account_id)
// uniqueness constraint is the authoritative guard against a duplicate link
// created by a retried OAuth callback.
func (r *Repository) Create(ctx context.Context, acct *Account) (*Account, error) {
	dbAcct := mapModelToDBAccount(acct)

	_, err := r.db.NewInsert().
		Model(dbAcct).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// GetByProvider retrieves the identity link for a (provider, provider account
// id) pair.
func (r *Repository) GetByProvider(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	dbAcct := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAcct).
		Where("provider = ?", provider).
		Where("provider_account_id = ?", providerAccountID).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by provider: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// GetByUserAndProvider retrieves a user's identity link for one provider.
func (r *Repository) GetByUserAndProvider(ctx context.Context, userID uuid.UUID, provider string) (*Account, error) {
	dbAcct := new(database.Account)
	err := r.db.NewSelect().
		Model(dbAcct).
		Where("user_id = ?", userID).
		Where("provider = ?", provider).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by user and provider: %w", err)
	}

	return mapDBAccountToModel(dbAcct), nil
}

// LinkToUser creates the identity link and, when markVerified is set, stamps
// the user's email_verified_at in the same transaction. The account insert
// runs first: if the transaction boundary is ever weakened, linked-but-
// unverified is the recoverable leftover state.
func (r *Repository) LinkToUser(ctx context.Context, acct *Account, markVerified bool) (*Account, error) {
	dbAcct := mapModelToDBAccount(acct)

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().
			Model(dbAcct).
			Returning("*").
			Exec(ctx); err != nil {
			if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to create account: %w", err)
		}

		if markVerified {
			if _, err := tx.NewUpdate().
				Model((*database.User)(nil)).
				Set("email_verified_at = ?", time.Now()).
				Set("updated_at = NOW()").
				Where("id = ?", acct.UserID).
				Where("email_verified_at IS NULL").
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to mark email as verified: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return mapDBAccountToModel(dbAcct), nil
}

func mapModelToDBAccount(a *Account) *database.Account {
	return &database.Account{
		ID:                a.ID,
		UserID:            a.UserID,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       a.AccessToken,
		RefreshToken:      a.RefreshToken,
		TokenType:         a.TokenType,
		Scope:             a.Scope,
		IDToken:           a.IDToken,
		TokenExpiresAt:    a.TokenExpiresAt,
		CreatedAt:         a.CreatedAt,
	}
}

func mapDBAccountToModel(dba *database.Account) *Account {
	return &Account{
		ID:                dba.ID,
		UserID:            dba.UserID,
		Provider:          dba.Provider,
		ProviderAccountID: dba.ProviderAccountID,
		AccessToken:       dba.AccessToken,
		RefreshToken:      dba.RefreshToken,
		TokenType:         dba.TokenType,
		Scope:             dba.Scope,
		IDToken:           dba.IDToken,
		TokenExpiresAt:    dba.TokenExpiresAt,
		CreatedAt:         dba.CreatedAt,
	}
}
