package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"geodrop/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSessionRepositoryMocks(mock sqlmock.Sqlmock) {
	mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO sessions`))
	mock.ExpectPrepare(regexp.QuoteMeta(`SELECT id, user_id, token, csrf_token, expires_at, created_at`))
	mock.ExpectPrepare(regexp.QuoteMeta(`UPDATE sessions SET csrf_token`))
	mock.ExpectPrepare(regexp.QuoteMeta(`DELETE FROM sessions WHERE token = $1`))
	mock.ExpectPrepare(regexp.QuoteMeta(`DELETE FROM sessions WHERE expires_at <= $1`))
}

func TestNewSessionRepository(t *testing.T) {
	t.Run("successful_creation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		setupSessionRepositoryMocks(mock)

		repo, err := NewSessionRepository(db)
		require.NoError(t, err)
		assert.NotNil(t, repo)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fails_when_prepare_fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO sessions`)).
			WillReturnError(errors.New("prepare failed"))

		repo, err := NewSessionRepository(db)
		require.Error(t, err)
		assert.Nil(t, repo)
		assert.Contains(t, err.Error(), "failed to prepare create statement")
	})
}

func TestSessionRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setupSessionRepositoryMocks(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WithArgs("user-1", "token-abc", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("sess-1", time.Now()))

	repo, err := NewSessionRepository(db)
	require.NoError(t, err)

	session := &domain.Session{
		UserID:    "user-1",
		Token:     "token-abc",
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), session))
	assert.Equal(t, "sess-1", session.ID)
}

func TestSessionRepository_GetByToken(t *testing.T) {
	t.Run("valid_token", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		setupSessionRepositoryMocks(mock)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, token, csrf_token`)).
			WithArgs("token-abc", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "user_id", "token", "csrf_token", "expires_at", "created_at"},
			).AddRow("sess-1", "user-1", "token-abc", "", time.Now().Add(time.Hour), time.Now()))

		repo, err := NewSessionRepository(db)
		require.NoError(t, err)

		session, err := repo.GetByToken(context.Background(), "token-abc")
		require.NoError(t, err)
		assert.Equal(t, "user-1", session.UserID)
	})

	t.Run("unknown_or_expired_token", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		setupSessionRepositoryMocks(mock)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, user_id, token, csrf_token`)).
			WithArgs("bogus", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(
				[]string{"id", "user_id", "token", "csrf_token", "expires_at", "created_at"},
			))

		repo, err := NewSessionRepository(db)
		require.NoError(t, err)

		_, err = repo.GetByToken(context.Background(), "bogus")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}

func TestSessionRepository_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setupSessionRepositoryMocks(mock)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE token = $1`)).
		WithArgs("token-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo, err := NewSessionRepository(db)
	require.NoError(t, err)

	assert.NoError(t, repo.Delete(context.Background(), "token-abc"))
}

func TestSessionRepository_DeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setupSessionRepositoryMocks(mock)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE expires_at <= $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	repo, err := NewSessionRepository(db)
	require.NoError(t, err)

	count, err := repo.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestSessionRepository_UpdateCSRFToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setupSessionRepositoryMocks(mock)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sessions SET csrf_token`)).
		WithArgs("csrf-1", "token-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo, err := NewSessionRepository(db)
	require.NoError(t, err)

	assert.NoError(t, repo.UpdateCSRFToken(context.Background(), "csrf-1", "token-abc"))
}
