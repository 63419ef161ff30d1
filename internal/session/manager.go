package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rvasek/authbridge/internal/database"
)

var ErrNotFound = errors.New("session not found or expired")

const (
	// DefaultMaxAge is the absolute session lifetime.
	DefaultMaxAge = 30 * 24 * time.Hour
	// DefaultRefreshWindow is how close to expiry a session must be before a
	// lookup extends it; sliding at most once per window bounds write volume.
	DefaultRefreshWindow = 24 * time.Hour
)

// Session is a server-side record proving an authenticated browser. Token is
// the plaintext cookie value, only populated on Create.
type Session struct {
	ID        uuid.UUID
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Manager issues, looks up, refreshes, and revokes sessions backed by
// Postgres. Only the SHA-256 of the token is stored.
type Manager struct {
	db            *bun.DB
	maxAge        time.Duration
	refreshWindow time.Duration
}

func NewManager(db *bun.DB, maxAge, refreshWindow time.Duration) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if refreshWindow <= 0 {
		refreshWindow = DefaultRefreshWindow
	}
	return &Manager{db: db, maxAge: maxAge, refreshWindow: refreshWindow}
}

// Create issues a new session for the user and returns it with the plaintext
// token. The caller is responsible for delivering the token as a cookie.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	dbSession := &database.Session{
		ID:        uuid.New(),
		TokenHash: hashToken(token),
		UserID:    userID,
		ExpiresAt: time.Now().Add(m.maxAge),
	}

	if _, err := m.db.NewInsert().
		Model(dbSession).
		Returning("*").
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Session{
		ID:        dbSession.ID,
		Token:     token,
		UserID:    dbSession.UserID,
		ExpiresAt: dbSession.ExpiresAt,
		CreatedAt: dbSession.CreatedAt,
	}, nil
}

// Lookup resolves a cookie token to a live session. An expired row is
// treated as not-found and opportunistically deleted.
func (m *Manager) Lookup(ctx context.Context, token string) (*Session, error) {
	dbSession := new(database.Session)
	err := m.db.NewSelect().
		Model(dbSession).
		Where("token_hash = ?", hashToken(token)).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if time.Now().After(dbSession.ExpiresAt) {
		// Best effort cleanup.
		_ = m.Revoke(ctx, token)
		return nil, ErrNotFound
	}

	return &Session{
		ID:        dbSession.ID,
		UserID:    dbSession.UserID,
		ExpiresAt: dbSession.ExpiresAt,
		CreatedAt: dbSession.CreatedAt,
	}, nil
}

// Refresh slides the session expiry forward to now+maxAge, but only when the
// current expiry is already inside the refresh window. Returns whether a
// write happened. The condition lives in the WHERE clause so concurrent
// refreshes of one session collapse to a single write.
func (m *Manager) Refresh(ctx context.Context, token string) (bool, error) {
	now := time.Now()

	result, err := m.db.NewUpdate().
		Model((*database.Session)(nil)).
		Set("expires_at = ?", now.Add(m.maxAge)).
		Where("token_hash = ?", hashToken(token)).
		Where("expires_at > ?", now).
		Where("expires_at < ?", now.Add(m.refreshWindow)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to refresh session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Revoke deletes the session. Idempotent: revoking an unknown or already
// revoked token succeeds.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	_, err := m.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("token_hash = ?", hashToken(token)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpired removes expired session rows. Meant to be run periodically.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	_, err := m.db.NewDelete().
		Model((*database.Session)(nil)).
		Where("expires_at < NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return nil
}

// NeedsRefresh reports whether a session expiring at expiresAt should be
// extended at time now, given the refresh window.
func NeedsRefresh(expiresAt, now time.Time, refreshWindow time.Duration) bool {
	if !now.Before(expiresAt) {
		return false
	}
	return expiresAt.Sub(now) < refreshWindow
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
