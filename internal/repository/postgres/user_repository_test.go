package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"geodrop/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userCols = []string{"id", "username", "email", "password_hash", "created_at"}

func TestUserRepository_Create(t *testing.T) {
	t.Run("successful_creation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs("alice", "alice@example.com", "hash").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("user-1", time.Now()))

		repo := NewUserRepository(db)
		user := &domain.User{Username: "alice", Email: "alice@example.com", PasswordHash: "hash"}

		require.NoError(t, repo.Create(context.Background(), user))
		assert.Equal(t, "user-1", user.ID)
	})

	t.Run("duplicate_username", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

		repo := NewUserRepository(db)
		err = repo.Create(context.Background(), &domain.User{Username: "alice"})
		assert.ErrorIs(t, err, domain.ErrUsernameExists)
	})

	t.Run("duplicate_email", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

		repo := NewUserRepository(db)
		err = repo.Create(context.Background(), &domain.User{Email: "alice@example.com"})
		assert.ErrorIs(t, err, domain.ErrEmailExists)
	})
}

func TestUserRepository_GetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow("user-1", "alice", "alice@example.com", "hash", time.Now()))

		repo := NewUserRepository(db)
		user, err := repo.GetByID(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})

	t.Run("not_found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1`)).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(userCols))

		repo := NewUserRepository(db)
		_, err = repo.GetByID(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}

func TestUserRepository_GetByUsername(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE username = $1`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "alice", "alice@example.com", "hash", time.Now()))

	repo := NewUserRepository(db)
	user, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
}
