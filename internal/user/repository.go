package user

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
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already exists")
)

// NewParams carries the fields for creating a user. PasswordHash is nil for
// users created from an OAuth assertion; EmailVerified is non-nil when the
// provider already confirmed the address.
type NewParams struct {
	Email         string
	Name          string
	PasswordHash  *string
	Role          Role
	EmailVerified *time.Time
}

// Repository handles user data persistence
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user. The email uniqueness constraint is the
// authoritative guard against concurrent registration; a duplicate-key
// failure maps to ErrDuplicateEmail regardless of any pre-check the caller
// did.
func (r *Repository) Create(ctx context.Context, params NewParams) (*User, error) {
	role := params.Role
	if role == "" {
		role = RoleUser
	}

	dbUser := &database.User{
		Email:           strings.ToLower(params.Email),
		Name:            params.Name,
		PasswordHash:    params.PasswordHash,
		Role:            string(role),
		EmailVerifiedAt: params.EmailVerified,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByEmail retrieves a user by email. Emails are stored lowercased, so the
// lookup normalizes the argument the same way.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("email = ?", strings.ToLower(email)).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// GetByID retrieves a user by ID
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// MarkEmailVerified sets the verification timestamp. A no-op if the user is
// already verified; the first write wins.
func (r *Repository) MarkEmailVerified(ctx context.Context, userID uuid.UUID, when time.Time) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("email_verified_at = ?", when).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Where("email_verified_at IS NULL").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to mark email as verified: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Either the user doesn't exist or was already verified; distinguish
		// so callers can treat already-verified as success.
		if _, err := r.GetByID(ctx, userID); err != nil {
			return err
		}
	}

	return nil
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:            dbu.ID,
		Email:         dbu.Email,
		Name:          dbu.Name,
		PasswordHash:  dbu.PasswordHash,
		Role:          Role(dbu.Role),
		EmailVerified: dbu.EmailVerifiedAt,
		CreatedAt:     dbu.CreatedAt,
		UpdatedAt:     dbu.UpdatedAt,
	}
}
