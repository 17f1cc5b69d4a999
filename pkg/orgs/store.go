package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
)

// Store persists organizations and memberships. It satisfies
// auth.MembershipLoader.
type Store interface {
	auth.MembershipLoader

	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)

	ListMembers(ctx context.Context, orgID string) ([]*auth.Membership, error)
	// AddMember returns apperr.ErrConflict when the user is already a member.
	AddMember(ctx context.Context, m *auth.Membership) error
	UpdateMemberRole(ctx context.Context, orgID, userID string, role catalog.Role) error
	RemoveMember(ctx context.Context, orgID, userID string) error
	// TransferOwnership demotes fromUserID to admin and promotes toUserID to
	// owner in one step.
	TransferOwnership(ctx context.Context, orgID, fromUserID, toUserID string) error
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orgColumns = `id, slug, name, subscription_status, created_at, updated_at`

func (p *PostgresStore) getOrganization(ctx context.Context, where string, arg string) (*Organization, error) {
	org := &Organization{}
	err := p.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE `+where, arg).Scan(
		&org.ID, &org.Slug, &org.Name, &org.SubscriptionStatus, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetOrganization retrieves an organization by ID
func (p *PostgresStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return p.getOrganization(ctx, "id = $1", id)
}

// GetOrganizationBySlug retrieves an organization by slug
func (p *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return p.getOrganization(ctx, "slug = $1", slug)
}

const membershipColumns = `user_id, organization_id, role, permission_overrides, last_active_at, created_at`

func scanMembership(row interface{ Scan(...interface{}) error }) (*auth.Membership, error) {
	m := &auth.Membership{}
	var overrides []string
	var lastActive sql.NullTime
	if err := row.Scan(&m.UserID, &m.OrganizationID, &m.Role, pq.Array(&overrides), &lastActive, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Overrides = catalog.ParsePermissions(overrides)
	if lastActive.Valid {
		t := lastActive.Time
		m.LastActiveAt = &t
	}
	return m, nil
}

// Membership implements auth.MembershipLoader
func (p *PostgresStore) Membership(ctx context.Context, userID, orgID string) (*auth.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1 AND organization_id = $2`
	m, err := scanMembership(p.db.QueryRowContext(ctx, query, userID, orgID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// DefaultMembership implements auth.MembershipLoader
func (p *PostgresStore) DefaultMembership(ctx context.Context, userID string) (*auth.Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE user_id = $1
		ORDER BY last_active_at DESC NULLS LAST, created_at DESC
		LIMIT 1
	`
	m, err := scanMembership(p.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default membership: %w", err)
	}
	return m, nil
}

// TouchMembership implements auth.MembershipLoader
func (p *PostgresStore) TouchMembership(ctx context.Context, userID, orgID string, at time.Time) error {
	query := `
		UPDATE memberships SET last_active_at = $3
		WHERE user_id = $1 AND organization_id = $2
		  AND (last_active_at IS NULL OR last_active_at < $3)
	`
	if _, err := p.db.ExecContext(ctx, query, userID, orgID, at); err != nil {
		return fmt.Errorf("failed to touch membership: %w", err)
	}
	return nil
}

// ListMembers lists members ordered by join time
func (p *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*auth.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE organization_id = $1 ORDER BY created_at ASC, user_id ASC`
	rows, err := p.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*auth.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// AddMember adds a user to an organization
func (p *PostgresStore) AddMember(ctx context.Context, m *auth.Membership) error {
	query := `
		INSERT INTO memberships (user_id, organization_id, role, permission_overrides)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, organization_id) DO NOTHING
		RETURNING created_at
	`
	err := p.db.QueryRowContext(ctx, query, m.UserID, m.OrganizationID, m.Role,
		pq.Array(catalog.PermissionStrings(m.Overrides))).Scan(&m.CreatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: member already exists", apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// UpdateMemberRole updates a member's role
func (p *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID string, role catalog.Role) error {
	query := `UPDATE memberships SET role = $1 WHERE organization_id = $2 AND user_id = $3`
	result, err := p.db.ExecContext(ctx, query, role, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return expectOne(result)
}

// RemoveMember removes a user from an organization
func (p *PostgresStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	query := `DELETE FROM memberships WHERE organization_id = $1 AND user_id = $2`
	result, err := p.db.ExecContext(ctx, query, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return expectOne(result)
}

func expectOne(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// TransferOwnership swaps the owner role inside one transaction. Both rows
// are locked first so a concurrent transfer or role change waits.
func (p *PostgresStore) TransferOwnership(ctx context.Context, orgID, fromUserID, toUserID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, role FROM memberships
		WHERE organization_id = $1 AND user_id = ANY($2)
		ORDER BY user_id
		FOR UPDATE
	`, orgID, pq.Array([]string{fromUserID, toUserID}))
	if err != nil {
		return fmt.Errorf("failed to lock memberships: %w", err)
	}
	roles := make(map[string]catalog.Role, 2)
	for rows.Next() {
		var userID string
		var role catalog.Role
		if err := rows.Scan(&userID, &role); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		roles[userID] = role
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating memberships: %w", err)
	}

	if err := checkTransfer(roles, fromUserID, toUserID); err != nil {
		return err
	}

	// Demote first so the one-owner index never sees two owners.
	if _, err := tx.ExecContext(ctx,
		`UPDATE memberships SET role = $1 WHERE organization_id = $2 AND user_id = $3`,
		catalog.RoleAdmin, orgID, fromUserID); err != nil {
		return fmt.Errorf("failed to demote owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memberships SET role = $1 WHERE organization_id = $2 AND user_id = $3`,
		catalog.RoleOwner, orgID, toUserID); err != nil {
		return fmt.Errorf("failed to promote new owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ownership transfer: %w", err)
	}
	return nil
}

func checkTransfer(roles map[string]catalog.Role, fromUserID, toUserID string) error {
	if roles[fromUserID] != catalog.RoleOwner {
		return fmt.Errorf("%w: %s is not the owner", apperr.ErrConflict, fromUserID)
	}
	if _, ok := roles[toUserID]; !ok {
		return apperr.ErrNotFound
	}
	return nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu          sync.Mutex
	orgs        map[string]*Organization
	memberships map[string]map[string]*auth.Membership // org -> user
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:        make(map[string]*Organization),
		memberships: make(map[string]map[string]*auth.Membership),
		now:         time.Now,
	}
}

// PutOrganization stores org, replacing any previous copy
func (m *MemoryStore) PutOrganization(org *Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *org
	m.orgs[org.ID] = &cp
}

func copyMembership(in *auth.Membership) *auth.Membership {
	cp := *in
	cp.Overrides = append([]catalog.Permission(nil), in.Overrides...)
	if in.LastActiveAt != nil {
		t := *in.LastActiveAt
		cp.LastActiveAt = &t
	}
	return &cp
}

// GetOrganization implements Store
func (m *MemoryStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

// GetOrganizationBySlug implements Store
func (m *MemoryStore) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.Slug == slug {
			cp := *org
			return &cp, nil
		}
	}
	return nil, apperr.ErrNotFound
}

// Membership implements auth.MembershipLoader
func (m *MemoryStore) Membership(ctx context.Context, userID, orgID string) (*auth.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.memberships[orgID][userID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyMembership(mb), nil
}

// DefaultMembership implements auth.MembershipLoader
func (m *MemoryStore) DefaultMembership(ctx context.Context, userID string) (*auth.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *auth.Membership
	for _, members := range m.memberships {
		mb, ok := members[userID]
		if !ok {
			continue
		}
		if best == nil || moreRecent(mb, best) {
			best = mb
		}
	}
	if best == nil {
		return nil, apperr.ErrNotFound
	}
	return copyMembership(best), nil
}

// TouchMembership implements auth.MembershipLoader
func (m *MemoryStore) TouchMembership(ctx context.Context, userID, orgID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.memberships[orgID][userID]
	if !ok {
		return nil
	}
	if mb.LastActiveAt == nil || mb.LastActiveAt.Before(at) {
		t := at
		mb.LastActiveAt = &t
	}
	return nil
}

func moreRecent(a, b *auth.Membership) bool {
	switch {
	case a.LastActiveAt != nil && b.LastActiveAt == nil:
		return true
	case a.LastActiveAt == nil && b.LastActiveAt != nil:
		return false
	case a.LastActiveAt != nil && !a.LastActiveAt.Equal(*b.LastActiveAt):
		return a.LastActiveAt.After(*b.LastActiveAt)
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// ListMembers implements Store
func (m *MemoryStore) ListMembers(ctx context.Context, orgID string) ([]*auth.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*auth.Membership, 0, len(m.memberships[orgID]))
	for _, mb := range m.memberships[orgID] {
		out = append(out, copyMembership(mb))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// AddMember implements Store
func (m *MemoryStore) AddMember(ctx context.Context, mb *auth.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.memberships[mb.OrganizationID]
	if !ok {
		members = make(map[string]*auth.Membership)
		m.memberships[mb.OrganizationID] = members
	}
	if _, exists := members[mb.UserID]; exists {
		return fmt.Errorf("%w: member already exists", apperr.ErrConflict)
	}
	if mb.Role == catalog.RoleOwner {
		for _, other := range members {
			if other.Role == catalog.RoleOwner {
				return fmt.Errorf("%w: organization already has an owner", apperr.ErrConflict)
			}
		}
	}
	if mb.CreatedAt.IsZero() {
		mb.CreatedAt = m.now().UTC()
	}
	members[mb.UserID] = copyMembership(mb)
	return nil
}

// UpdateMemberRole implements Store
func (m *MemoryStore) UpdateMemberRole(ctx context.Context, orgID, userID string, role catalog.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.memberships[orgID][userID]
	if !ok {
		return apperr.ErrNotFound
	}
	mb.Role = role
	return nil
}

// RemoveMember implements Store
func (m *MemoryStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.memberships[orgID][userID]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.memberships[orgID], userID)
	return nil
}

// TransferOwnership implements Store
func (m *MemoryStore) TransferOwnership(ctx context.Context, orgID, fromUserID, toUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make(map[string]catalog.Role, 2)
	for _, id := range []string{fromUserID, toUserID} {
		if mb, ok := m.memberships[orgID][id]; ok {
			roles[id] = mb.Role
		}
	}
	if err := checkTransfer(roles, fromUserID, toUserID); err != nil {
		return err
	}
	m.memberships[orgID][fromUserID].Role = catalog.RoleAdmin
	m.memberships[orgID][toUserID].Role = catalog.RoleOwner
	return nil
}
