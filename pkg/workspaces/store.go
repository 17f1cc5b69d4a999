package workspaces

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// Workspace is a tenant-scoped resource. OrganizationID is set on create and
// never changes.
type Workspace struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists workspaces. Every read takes the organization id so that a
// row from another tenant is never returned.
type Store interface {
	List(ctx context.Context, orgID string) ([]*Workspace, error)
	// Get returns apperr.ErrNotFound when id does not exist in orgID.
	Get(ctx context.Context, orgID, id string) (*Workspace, error)
	Create(ctx context.Context, w *Workspace) error
	Delete(ctx context.Context, orgID, id string) error
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// List implements Store
func (p *PostgresStore) List(ctx context.Context, orgID string) ([]*Workspace, error) {
	query := `
		SELECT id, organization_id, name, created_by, created_at
		FROM workspaces
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := p.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		w := &Workspace{}
		if err := rows.Scan(&w.ID, &w.OrganizationID, &w.Name, &w.CreatedBy, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspaces: %w", err)
	}
	return out, nil
}

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, orgID, id string) (*Workspace, error) {
	query := `
		SELECT id, organization_id, name, created_by, created_at
		FROM workspaces
		WHERE organization_id = $1 AND id = $2
	`
	w := &Workspace{}
	err := p.db.QueryRowContext(ctx, query, orgID, id).Scan(&w.ID, &w.OrganizationID, &w.Name, &w.CreatedBy, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return w, nil
}

// Create implements Store
func (p *PostgresStore) Create(ctx context.Context, w *Workspace) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	query := `
		INSERT INTO workspaces (id, organization_id, name, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := p.db.QueryRowContext(ctx, query, w.ID, w.OrganizationID, w.Name, w.CreatedBy).Scan(&w.CreatedAt); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// Delete implements Store
func (p *PostgresStore) Delete(ctx context.Context, orgID, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM workspaces WHERE organization_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Workspace
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Workspace)}
}

// List implements Store
func (m *MemoryStore) List(ctx context.Context, orgID string) ([]*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Workspace
	for _, w := range m.items {
		if w.OrganizationID == orgID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, orgID, id string) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.items[id]
	if !ok || w.OrganizationID != orgID {
		return nil, apperr.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// Create implements Store
func (m *MemoryStore) Create(ctx context.Context, w *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	cp := *w
	m.items[w.ID] = &cp
	return nil
}

// Delete implements Store
func (m *MemoryStore) Delete(ctx context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.items[id]
	if !ok || w.OrganizationID != orgID {
		return apperr.ErrNotFound
	}
	delete(m.items, id)
	return nil
}
