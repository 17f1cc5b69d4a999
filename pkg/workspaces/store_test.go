package workspaces

import (
	"context"
	"database/sql"
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

func TestPostgresStore_ListFiltersOnOrganization(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM workspaces WHERE organization_id = \\$1").
		WithArgs("org-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "created_by", "created_at"}).
			AddRow("ws-1", "org-a", "alpha", "user-1", now))

	items, err := store.List(context.Background(), "org-a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "alpha", items[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetScopedByOrganization(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)

	mock.ExpectQuery("WHERE organization_id = \\$1 AND id = \\$2").
		WithArgs("org-a", "ws-b1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "org-a", "ws-b1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAndDelete(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewPostgresStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO workspaces").
		WithArgs("ws-1", "org-a", "alpha", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec("DELETE FROM workspaces WHERE organization_id = \\$1 AND id = \\$2").
		WithArgs("org-a", "ws-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM workspaces").
		WithArgs("org-a", "ws-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := &Workspace{ID: "ws-1", OrganizationID: "org-a", Name: "alpha", CreatedBy: "user-1"}
	require.NoError(t, store.Create(context.Background(), w))
	assert.Equal(t, now, w.CreatedAt)

	require.NoError(t, store.Delete(context.Background(), "org-a", "ws-1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "org-a", "ws-1"), apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
