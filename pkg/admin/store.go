package admin

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
)

// Store persists admin records. It satisfies auth.AdminLoader.
type Store interface {
	auth.AdminLoader
	// Get returns apperr.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*auth.AdminRecord, error)
	Create(ctx context.Context, rec *auth.AdminRecord) error
	// Revoke sets revoked_at once. It returns false when the record was
	// already revoked.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanRecord(row interface{ Scan(...interface{}) error }) (*auth.AdminRecord, error) {
	rec := &auth.AdminRecord{}
	var orgID, grantedBy sql.NullString
	var perms []string
	var revokedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.UserID, &orgID, pq.Array(&perms), &grantedBy, &rec.CreatedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		id := orgID.String
		rec.OrganizationID = &id
	}
	rec.GrantedBy = grantedBy.String
	rec.Permissions = catalog.ParsePermissions(perms)
	if revokedAt.Valid {
		t := revokedAt.Time
		rec.RevokedAt = &t
	}
	return rec, nil
}

// ActiveAdminRecords implements auth.AdminLoader
func (p *PostgresStore) ActiveAdminRecords(ctx context.Context, userID string) ([]*auth.AdminRecord, error) {
	query := `
		SELECT id, user_id, organization_id, permissions, granted_by, created_at, revoked_at
		FROM admin_records
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY created_at
	`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin records: %w", err)
	}
	defer rows.Close()

	var records []*auth.AdminRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admin records: %w", err)
	}
	return records, nil
}

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, id string) (*auth.AdminRecord, error) {
	query := `
		SELECT id, user_id, organization_id, permissions, granted_by, created_at, revoked_at
		FROM admin_records
		WHERE id = $1
	`
	rec, err := scanRecord(p.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin record: %w", err)
	}
	return rec, nil
}

// Create implements Store
func (p *PostgresStore) Create(ctx context.Context, rec *auth.AdminRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var orgID sql.NullString
	if rec.OrganizationID != nil {
		orgID = sql.NullString{String: *rec.OrganizationID, Valid: true}
	}

	query := `
		INSERT INTO admin_records (id, user_id, organization_id, permissions, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := p.db.QueryRowContext(ctx, query, rec.ID, rec.UserID, orgID,
		pq.Array(catalog.PermissionStrings(rec.Permissions)), rec.GrantedBy).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create admin record: %w", err)
	}
	return nil
}

// Revoke implements Store
func (p *PostgresStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := p.db.ExecContext(ctx,
		`UPDATE admin_records SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`, at, id)
	if err != nil {
		return false, fmt.Errorf("failed to revoke admin record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*auth.AdminRecord
	// Err, when set, is returned by every read.
	Err error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*auth.AdminRecord)}
}

func copyRecord(r *auth.AdminRecord) *auth.AdminRecord {
	cp := *r
	cp.Permissions = append([]catalog.Permission(nil), r.Permissions...)
	if r.OrganizationID != nil {
		id := *r.OrganizationID
		cp.OrganizationID = &id
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}

// ActiveAdminRecords implements auth.AdminLoader
func (m *MemoryStore) ActiveAdminRecords(ctx context.Context, userID string) ([]*auth.AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*auth.AdminRecord
	for _, r := range m.records {
		if r.UserID == userID && r.Active() {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, id string) (*auth.AdminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyRecord(r), nil
}

// Create implements Store
func (m *MemoryStore) Create(ctx context.Context, rec *auth.AdminRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = copyRecord(rec)
	return nil
}

// Revoke implements Store
func (m *MemoryStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.RevokedAt != nil {
		return false, nil
	}
	t := at
	r.RevokedAt = &t
	return true, nil
}

// Count returns the number of stored records
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
