package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rvasek/authbridge/internal/database"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	return NewRepository(database.NewBunDB(db)), mock, db
}

var accountColumns = []string{
	"id", "user_id", "provider", "provider_account_id",
	"access_token", "refresh_token", "token_type", "scope", "id_token",
	"token_expires_at", "created_at",
}

func googleAccount(userID uuid.UUID) *Account {
	access := "ya29.access"
	return &Account{
		ID:                uuid.New(),
		UserID:            userID,
		Provider:          "google",
		ProviderAccountID: "google-uid-1",
		AccessToken:       &access,
	}
}

func accountRow(a *Account) *sqlmock.Rows {
	return sqlmock.NewRows(accountColumns).
		AddRow(a.ID, a.UserID, a.Provider, a.ProviderAccountID,
			a.AccessToken, nil, nil, nil, nil, nil, time.Now())
}

func TestRepositoryCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	acct := googleAccount(uuid.New())
	mock.ExpectQuery(`INSERT INTO "accounts"`).
		WillReturnRows(accountRow(acct))

	created, err := repo.Create(context.Background(), acct)
	require.NoError(t, err)

	assert.Equal(t, acct.UserID, created.UserID)
	assert.Equal(t, "google", created.Provider)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO "accounts"`).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "accounts_provider_account_idx"`))

	_, err := repo.Create(context.Background(), googleAccount(uuid.New()))
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByProvider(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	acct := googleAccount(uuid.New())
	mock.ExpectQuery(`SELECT .+ FROM "accounts"`).
		WillReturnRows(accountRow(acct))

	got, err := repo.GetByProvider(context.Background(), "google", "google-uid-1")
	require.NoError(t, err)
	assert.Equal(t, acct.UserID, got.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByProvider_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM "accounts"`).
		WillReturnRows(sqlmock.NewRows(accountColumns))

	_, err := repo.GetByProvider(context.Background(), "google", "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByUserAndProvider(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	acct := googleAccount(uuid.New())
	mock.ExpectQuery(`SELECT .+ FROM "accounts"`).
		WillReturnRows(accountRow(acct))

	got, err := repo.GetByUserAndProvider(context.Background(), acct.UserID, "google")
	require.NoError(t, err)
	assert.Equal(t, "google-uid-1", got.ProviderAccountID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByUserAndProvider_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM "accounts"`).
		WillReturnRows(sqlmock.NewRows(accountColumns))

	_, err := repo.GetByUserAndProvider(context.Background(), uuid.New(), "google")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryLinkToUser_MarksVerified(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	acct := googleAccount(uuid.New())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "accounts"`).
		WillReturnRows(accountRow(acct))
	mock.ExpectExec(`UPDATE "users"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	linked, err := repo.LinkToUser(context.Background(), acct, true)
	require.NoError(t, err)
	assert.Equal(t, acct.UserID, linked.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryLinkToUser_AlreadyVerified(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	acct := googleAccount(uuid.New())

	// markVerified false: no user update inside the transaction.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "accounts"`).
		WillReturnRows(accountRow(acct))
	mock.ExpectCommit()

	_, err := repo.LinkToUser(context.Background(), acct, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryLinkToUser_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "accounts"`).
		WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "accounts_provider_account_idx"`))
	mock.ExpectRollback()

	_, err := repo.LinkToUser(context.Background(), googleAccount(uuid.New()), true)
	assert.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}
