package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}

type fixture struct {
	store       *MemoryStore
	auditStore  *audit.MemoryStore
	invalidator *recordingInvalidator
	validator   *Validator
	service     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:       NewMemoryStore(),
		auditStore:  audit.NewMemoryStore(),
		invalidator: &recordingInvalidator{},
	}
	auditService := audit.NewService(f.auditStore)
	engine := rbac.NewEngine(nil)
	f.validator = NewValidator(f.store, engine, auditService)
	f.service = NewService(f.store, f.validator, rbac.NewGuard(engine, auditService),
		auditService, catalog.Default(), f.invalidator)
	return f
}

func (f *fixture) entries(action string) []*audit.Entry {
	var out []*audit.Entry
	for _, e := range f.auditStore.All() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func tenantFor(t *testing.T, userID, org string, role catalog.Role) *auth.TenantContext {
	t.Helper()
	perms, err := catalog.Default().RolePermissions(role)
	require.NoError(t, err)
	return auth.NewTenantContext(userID, org, role, perms, false)
}

func systemAdmin(t *testing.T, f *fixture, userID, org string) *auth.TenantContext {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &auth.AdminRecord{
		UserID:      userID,
		Permissions: []catalog.Permission{catalog.PermSystemManageAdmins, catalog.PermSystemCrossTenantRead},
	}))
	perms, err := catalog.Default().RolePermissions(catalog.RoleOwner)
	require.NoError(t, err)
	return auth.NewTenantContext(userID, org, catalog.RoleOwner,
		perms.Union(catalog.PermSystemManageAdmins, catalog.PermSystemCrossTenantRead), true)
}

func TestGrantAdmin_SelfSystemFlagIsEscalation(t *testing.T) {
	f := newFixture(t)
	owner := tenantFor(t, "user-1", "org-a", catalog.RoleOwner)

	rec, err := f.service.GrantAdmin(context.Background(), owner, GrantRequest{UserID: "user-1"})
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, apperr.ErrEscalationAttempt)

	assert.Equal(t, 0, f.store.Count())
	assert.False(t, f.validator.IsSystemAdmin(context.Background(), "user-1"))
	assert.Empty(t, f.invalidator.users)

	events := f.entries(audit.EventSystemAdminFlag)
	require.Len(t, events, 1)
	assert.Equal(t, audit.RiskCritical, events[0].RiskLevel)
	assert.True(t, events[0].IsSecurityEvent)
	assert.Equal(t, audit.StatusBlocked, events[0].Status)
	assert.Equal(t, true, events[0].Metadata["self"])
	assert.Len(t, f.auditStore.All(), 1)
}

func TestGrantAdmin_ForgedSystemFlagInContext(t *testing.T) {
	f := newFixture(t)
	perms, err := catalog.Default().RolePermissions(catalog.RoleOwner)
	require.NoError(t, err)
	// Claims system admin but has no record in the store.
	forged := auth.NewTenantContext("user-9", "org-a", catalog.RoleOwner,
		perms.Union(catalog.PermSystemManageAdmins), true)

	_, err = f.service.GrantAdmin(context.Background(), forged, GrantRequest{UserID: "user-2"})
	assert.ErrorIs(t, err, apperr.ErrEscalationAttempt)
	assert.Equal(t, 0, f.store.Count())
	assert.Len(t, f.entries(audit.EventSystemAdminFlag), 1)
}

func TestGrantAdmin_SystemAdminGrantsSystemFlag(t *testing.T) {
	f := newFixture(t)
	root := systemAdmin(t, f, "root", "org-a")

	rec, err := f.service.GrantAdmin(context.Background(), root, GrantRequest{UserID: "user-2"})
	require.NoError(t, err)
	assert.Nil(t, rec.OrganizationID)
	assert.Equal(t, "root", rec.GrantedBy)
	for _, p := range rec.Permissions {
		assert.True(t, catalog.System(p), "default grant holds only system permissions: %s", p)
	}

	assert.True(t, f.validator.IsSystemAdmin(context.Background(), "user-2"))
	assert.Equal(t, []string{"user-2"}, f.invalidator.users)

	granted := f.entries(audit.ActionAdminGranted)
	require.Len(t, granted, 1)
	assert.Equal(t, "system", granted[0].Metadata["scope"])
	assert.Empty(t, f.entries(audit.EventSystemAdminFlag))
}

func TestGrantAdmin_OrgScoped(t *testing.T) {
	org := "org-a"

	tests := []struct {
		name      string
		role      catalog.Role
		targetOrg string
		perms     []catalog.Permission
		wantErr   error
		wantEvent string
	}{
		{
			name:      "admin grants held permission",
			role:      catalog.RoleAdmin,
			targetOrg: org,
			perms:     []catalog.Permission{catalog.PermMembersInvite},
		},
		{
			name:      "admin grants owner-only permission",
			role:      catalog.RoleAdmin,
			targetOrg: org,
			perms:     []catalog.Permission{catalog.PermBillingManage},
			wantErr:   apperr.ErrEscalationAttempt,
			wantEvent: audit.EventEscalationAttempt,
		},
		{
			name:      "member lacks manage users",
			role:      catalog.RoleMember,
			targetOrg: org,
			perms:     []catalog.Permission{catalog.PermOrgRead},
			wantErr:   apperr.ErrForbidden,
			wantEvent: audit.ActionAccessDenied,
		},
		{
			name:      "other organization",
			role:      catalog.RoleOwner,
			targetOrg: "org-b",
			perms:     []catalog.Permission{catalog.PermOrgRead},
			wantErr:   apperr.ErrCrossTenant,
			wantEvent: audit.EventCrossTenantAccess,
		},
		{
			name:      "system permission on org record",
			role:      catalog.RoleOwner,
			targetOrg: org,
			perms:     []catalog.Permission{catalog.PermSystemManageAdmins},
			wantErr:   apperr.ErrInvalidInput,
		},
		{
			name:      "no permissions",
			role:      catalog.RoleOwner,
			targetOrg: org,
			wantErr:   apperr.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tc := tenantFor(t, "caller", org, tt.role)
			target := tt.targetOrg

			rec, err := f.service.GrantAdmin(context.Background(), tc, GrantRequest{
				UserID:         "user-2",
				OrganizationID: &target,
				Permissions:    tt.perms,
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, f.store.Count())
				if tt.wantEvent != "" {
					assert.Len(t, f.entries(tt.wantEvent), 1)
				}
				return
			}

			require.NoError(t, err)
			require.NotNil(t, rec.OrganizationID)
			assert.Equal(t, org, *rec.OrganizationID)
			assert.Equal(t, []string{"user-2"}, f.invalidator.users)
			assert.Len(t, f.entries(audit.ActionAdminGranted), 1)
		})
	}
}

func TestGrantAdmin_EscalationRecordsOneEvent(t *testing.T) {
	f := newFixture(t)
	org := "org-a"
	admin := tenantFor(t, "caller", org, catalog.RoleAdmin)

	_, err := f.service.GrantAdmin(context.Background(), admin, GrantRequest{
		UserID:         "user-2",
		OrganizationID: &org,
		Permissions:    []catalog.Permission{catalog.PermMembersRead, catalog.PermOrgDelete},
	})
	require.ErrorIs(t, err, apperr.ErrEscalationAttempt)

	events := f.entries(audit.EventEscalationAttempt)
	require.Len(t, events, 1)
	assert.Equal(t, audit.RiskHigh, events[0].RiskLevel)
	assert.Equal(t, []string{string(catalog.PermOrgDelete)}, events[0].Metadata["missing"])
}

func TestGrantAdmin_Validation(t *testing.T) {
	f := newFixture(t)
	owner := tenantFor(t, "caller", "org-a", catalog.RoleOwner)

	_, err := f.service.GrantAdmin(context.Background(), owner, GrantRequest{UserID: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.service.GrantAdmin(context.Background(), nil, GrantRequest{UserID: "x"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestRevokeAdmin(t *testing.T) {
	f := newFixture(t)
	root := systemAdmin(t, f, "root", "org-a")
	ctx := context.Background()

	rec, err := f.service.GrantAdmin(ctx, root, GrantRequest{UserID: "user-2"})
	require.NoError(t, err)
	require.True(t, f.validator.IsSystemAdmin(ctx, "user-2"))

	require.NoError(t, f.service.RevokeAdmin(ctx, root, rec.ID))
	assert.False(t, f.validator.IsSystemAdmin(ctx, "user-2"))
	assert.Len(t, f.entries(audit.ActionAdminRevoked), 1)

	// Second revoke is a no-op.
	require.NoError(t, f.service.RevokeAdmin(ctx, root, rec.ID))
	assert.Len(t, f.entries(audit.ActionAdminRevoked), 1)

	assert.ErrorIs(t, f.service.RevokeAdmin(ctx, root, "missing"), apperr.ErrNotFound)
}

func TestValidator_SeesRevocationBehindWarmCache(t *testing.T) {
	f := newFixture(t)
	systemAdmin(t, f, "root", "org-a")
	ctx := context.Background()

	cache := auth.NewCachingLoader(nil, f.store, 16, time.Hour, nil)
	cached := NewValidator(cache, rbac.NewEngine(nil), audit.NewService(audit.NewMemoryStore()))
	require.True(t, cached.IsSystemAdmin(ctx, "root"))
	require.True(t, f.validator.IsSystemAdmin(ctx, "root"))

	records, err := f.store.ActiveAdminRecords(ctx, "root")
	require.NoError(t, err)
	require.Len(t, records, 1)
	revoked, err := f.store.Revoke(ctx, records[0].ID, time.Now())
	require.NoError(t, err)
	require.True(t, revoked)

	// Until the cache entry is invalidated it still answers yes; the
	// validator over the store does not.
	assert.True(t, cached.IsSystemAdmin(ctx, "root"))
	assert.False(t, f.validator.IsSystemAdmin(ctx, "root"))
}

func TestRevokeAdmin_SystemRecordByNonAdmin(t *testing.T) {
	f := newFixture(t)
	root := systemAdmin(t, f, "root", "org-a")
	ctx := context.Background()

	records, err := f.store.ActiveAdminRecords(ctx, "root")
	require.NoError(t, err)
	require.Len(t, records, 1)

	owner := tenantFor(t, "user-1", "org-a", catalog.RoleOwner)
	err = f.service.RevokeAdmin(ctx, owner, records[0].ID)
	assert.ErrorIs(t, err, apperr.ErrEscalationAttempt)
	assert.True(t, f.validator.IsSystemAdmin(ctx, root.UserID()))
	assert.Len(t, f.entries(audit.EventSystemAdminFlag), 1)
}

func TestValidator_IsSystemAdminFailsClosed(t *testing.T) {
	f := newFixture(t)
	systemAdmin(t, f, "root", "org-a")
	require.True(t, f.validator.IsSystemAdmin(context.Background(), "root"))

	f.store.Err = errors.New("connection refused")
	assert.False(t, f.validator.IsSystemAdmin(context.Background(), "root"))
	assert.False(t, f.validator.IsSystemAdmin(context.Background(), ""))
}

func TestValidator_PreventCrossTenantAccess(t *testing.T) {
	f := newFixture(t)
	systemAdmin(t, f, "root", "org-a")
	ctx := context.Background()

	assert.True(t, f.validator.PreventCrossTenantAccess(ctx, "user-1", "org-a", "org-a"))
	assert.False(t, f.validator.PreventCrossTenantAccess(ctx, "user-1", "org-a", "org-b"))
	assert.False(t, f.validator.PreventCrossTenantAccess(ctx, "user-1", "", ""))
	assert.True(t, f.validator.PreventCrossTenantAccess(ctx, "root", "org-a", "org-b"))
}

func TestValidator_PreventEscalationAllowsHeld(t *testing.T) {
	f := newFixture(t)
	admin := tenantFor(t, "caller", "org-a", catalog.RoleAdmin)

	err := f.validator.PreventEscalation(context.Background(), admin, "members",
		[]catalog.Permission{catalog.PermMembersRead})
	assert.NoError(t, err)
	assert.Empty(t, f.auditStore.All())
}
