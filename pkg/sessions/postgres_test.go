package sessions

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var sessionRowColumns = []string{"id", "user_id", "browser", "os", "is_mobile", "ip_address", "user_agent",
	"created_at", "last_activity_at", "revoked_at"}

func TestPostgresStore_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	now := time.Now().UTC()
	s := &Session{ID: "s1", UserID: "user-1", Device: DeviceInfo{Browser: "Chrome", OS: "Linux"},
		IPAddress: "10.0.0.1", UserAgent: "ua", CreatedAt: now, LastActivityAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("s1", "user-1", "Chrome", "Linux", false, "10.0.0.1", "ua", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUnknownUser(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := store.Create(context.Background(), &Session{ID: "s1", UserID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAndList(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("s1", "user-1", "Chrome", "Linux", false, "", "", now, now, now))

	s, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, s.RevokedAt)

	mock.ExpectQuery(`FROM sessions WHERE id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mock.ExpectQuery(`ORDER BY last_activity_at DESC, id DESC`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(sessionRowColumns).
			AddRow("s2", "user-1", "Safari", "iOS", true, "", "", now, now, nil).
			AddRow("s1", "user-1", "Chrome", "Linux", false, "", "", now, now.Add(-time.Hour), nil))

	list, err := store.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Device.Mobile)
	assert.Nil(t, list[1].RevokedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Revoke(t *testing.T) {
	now := time.Now().UTC()

	t.Run("revokes", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT revoked_at FROM sessions WHERE id = \$1 AND user_id = \$2 FOR UPDATE`).
			WithArgs("s1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(nil))
		mock.ExpectExec(`UPDATE sessions SET revoked_at = \$1 WHERE id = \$2`).
			WithArgs(now, "s1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		revoked, err := store.Revoke(context.Background(), "user-1", "s1", now)
		require.NoError(t, err)
		assert.True(t, revoked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already revoked", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT revoked_at FROM sessions`).
			WithArgs("s1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"revoked_at"}).AddRow(now.Add(-time.Hour)))
		mock.ExpectCommit()

		revoked, err := store.Revoke(context.Background(), "user-1", "s1", now)
		require.NoError(t, err)
		assert.False(t, revoked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other user", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT revoked_at FROM sessions`).
			WithArgs("s1", "user-2").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := store.Revoke(context.Background(), "user-2", "s1", now)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_RevokeAllExcept(t *testing.T) {
	now := time.Now().UTC()
	since := now.Add(-DefaultTimeout)

	t.Run("batch", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
		mock.ExpectQuery(`SELECT id FROM sessions\s+WHERE user_id = \$1 AND id <> \$2 AND revoked_at IS NULL`).
			WithArgs("user-1", "current", since).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s2").AddRow("s3"))
		mock.ExpectExec(`UPDATE sessions SET revoked_at = \$1 WHERE id = ANY\(\$2\)`).
			WithArgs(now, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		ids, err := store.RevokeAllExcept(context.Background(), "user-1", "current", since, now)
		require.NoError(t, err)
		assert.Equal(t, []string{"s2", "s3"}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing to revoke", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM users`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
		mock.ExpectQuery(`SELECT id FROM sessions`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectCommit()

		ids, err := store.RevokeAllExcept(context.Background(), "user-1", "current", since, now)
		require.NoError(t, err)
		assert.Empty(t, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update failure rolls back", func(t *testing.T) {
		db, mock := setupMockDB(t)
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM users`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
		mock.ExpectQuery(`SELECT id FROM sessions`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s2"))
		mock.ExpectExec(`UPDATE sessions`).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		_, err := store.RevokeAllExcept(context.Background(), "user-1", "current", since, now)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Touch(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE sessions SET last_activity_at = \$1 WHERE id = \$2 AND revoked_at IS NULL`).
		WithArgs(now, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Touch(context.Background(), "s1", now))
	assert.NoError(t, mock.ExpectationsWereMet())
}
