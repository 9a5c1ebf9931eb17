package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachconnect/booking-engine/internal/models"
)

var accountRowColumns = []string{
	"id", "email", "password_hash", "display_name", "is_guest", "roles", "created_at", "updated_at",
}

func TestCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("Creates With Normalized Email", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)
		account := &models.Account{Email: "  Parent@Example.COM ", DisplayName: "Jo Lee", IsGuest: true, Roles: models.StringArray{"parent"}}

		mock.ExpectQuery(`INSERT INTO accounts`).
			WithArgs("parent@example.com", "", "Jo Lee", true, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(21), now, now))

		created, err := repo.CreateIfAbsent(ctx, account)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(21), account.ID)
		assert.Equal(t, "parent@example.com", account.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Conflict Loads Winner", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)
		account := &models.Account{Email: "parent@example.com", IsGuest: true}

		mock.ExpectQuery(`INSERT INTO accounts`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE email = \$1`).
			WithArgs("parent@example.com").
			WillReturnRows(sqlmock.NewRows(accountRowColumns).
				AddRow(int64(8), "parent@example.com", "$2a$04$hash", "Jo Lee", false, []byte(`{parent}`), now, now))

		created, err := repo.CreateIfAbsent(ctx, account)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(8), account.ID)
		assert.False(t, account.IsGuest)
		assert.True(t, account.Roles.Contains(models.RoleParent))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)

		mock.ExpectQuery(`INSERT INTO accounts`).WillReturnError(fmt.Errorf("database error"))

		_, err := repo.CreateIfAbsent(ctx, &models.Account{Email: "x@example.com"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create account")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetByEmail_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(accountRowColumns))

	account, err := repo.GetByEmail(context.Background(), "Nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, account)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePlayer(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)
		player := &models.Player{ParentID: 5, FirstName: "Sam", LastName: "Lee"}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM parents WHERE id = \$1 FOR UPDATE`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM players`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery(`INSERT INTO players`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(31), time.Now()))
		mock.ExpectCommit()

		require.NoError(t, repo.CreatePlayer(ctx, player))
		assert.Equal(t, int64(31), player.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Limit Reached", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM parents`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM players`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(models.MaxPlayersPerParent))
		mock.ExpectRollback()

		err := repo.CreatePlayer(ctx, &models.Player{ParentID: 5, FirstName: "Sam", LastName: "Lee"})
		appErr, ok := models.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, "player_limit_reached", appErr.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
