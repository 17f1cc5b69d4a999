package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// flakyStore fails writes whose action is in failActions
type flakyStore struct {
	*MemoryStore
	mu          sync.Mutex
	failActions map[string]bool
	deadline    bool
}

func newFlakyStore(fail ...string) *flakyStore {
	f := &flakyStore{MemoryStore: NewMemoryStore(), failActions: map[string]bool{}}
	for _, a := range fail {
		f.failActions[a] = true
	}
	return f
}

func (f *flakyStore) Write(ctx context.Context, e *Entry) error {
	f.mu.Lock()
	_, hasDeadline := ctx.Deadline()
	f.deadline = hasDeadline
	fail := f.failActions[e.Action]
	f.mu.Unlock()
	if fail {
		return errors.New("store unavailable")
	}
	return f.MemoryStore.Write(ctx, e)
}

func tenantFor(t *testing.T, org string, role catalog.Role, sysAdmin bool, extra ...catalog.Permission) *auth.TenantContext {
	t.Helper()
	perms, err := catalog.Default().RolePermissions(role)
	require.NoError(t, err)
	return auth.NewTenantContext("user-"+string(role), org, role, perms.Union(extra...), sysAdmin)
}

func newTestService(t *testing.T, store Store) (*Service, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewService(store, WithMetrics(metrics), WithClock(func() time.Time { return fixed })), metrics
}

func TestService_Log(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(t, store)

	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithClient(ctx, contextkeys.ClientInfo{IPAddress: "10.1.1.1", UserAgent: "curl/8"})

	entry := &Entry{OrganizationID: "org-a", UserID: "user-1", Action: ActionMemberAdded}
	require.NoError(t, svc.Log(ctx, entry))

	stored := store.All()
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.Equal(t, StatusSuccess, stored[0].Status)
	assert.Equal(t, RiskLow, stored[0].RiskLevel)
	assert.Equal(t, "10.1.1.1", stored[0].IPAddress)
	assert.Equal(t, "curl/8", stored[0].UserAgent)
	assert.Equal(t, "req-1", stored[0].RequestID)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), stored[0].CreatedAt)
}

func TestService_LogValidation(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Log(ctx, &Entry{Action: "x"}), apperr.ErrInvalidInput)
	assert.ErrorIs(t, svc.Log(ctx, &Entry{UserID: "u"}), apperr.ErrInvalidInput)
	assert.ErrorIs(t, svc.LogSecurityEvent(ctx, &Entry{UserID: "u", Action: EventEscalationAttempt}), apperr.ErrInvalidInput)
	assert.Empty(t, store.All())
}

func TestService_LogSecurityEvent(t *testing.T) {
	store := NewMemoryStore()
	svc, metrics := newTestService(t, store)

	err := svc.LogSecurityEvent(context.Background(), &Entry{
		OrganizationID: "org-a", UserID: "user-1", Action: EventEscalationAttempt, RiskLevel: RiskHigh,
	})
	require.NoError(t, err)

	stored := store.All()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsSecurityEvent)
	assert.Equal(t, EventEscalationAttempt, stored[0].EventType)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SecurityEventsTotal.WithLabelValues("high")))

	result, err := svc.QuerySecurityEvents(context.Background(), Filter{OrganizationID: "org-a", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
}

func TestService_RecordIsNonFatal(t *testing.T) {
	store := newFlakyStore(ActionMemberAdded)
	svc, metrics := newTestService(t, store)

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), &Entry{OrganizationID: "org-a", UserID: "u", Action: ActionMemberAdded})
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuditWriteFailuresTotal.WithLabelValues("entry")))

	err := svc.Log(context.Background(), &Entry{OrganizationID: "org-a", UserID: "u", Action: ActionMemberAdded})
	assert.Error(t, err)
}

func TestService_WriteSurvivesCancelledRequest(t *testing.T) {
	store := newFlakyStore()
	svc, _ := newTestService(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.Log(ctx, &Entry{OrganizationID: "org-a", UserID: "u", Action: ActionSessionRevoked}))
	assert.Len(t, store.All(), 1)
	assert.True(t, store.deadline, "writes carry the bounded timeout")
}

func TestService_QueryIsOrgScoped(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.Log(ctx, &Entry{OrganizationID: "org-a", UserID: "u", Action: "a"}))
	require.NoError(t, svc.Log(ctx, &Entry{OrganizationID: "org-b", UserID: "u", Action: "b"}))

	result, err := svc.Query(ctx, Filter{OrganizationID: "org-a", Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "org-a", result.Entries[0].OrganizationID)

	_, err = svc.Query(ctx, Filter{Page: 1, Limit: 10})
	assert.ErrorIs(t, err, apperr.ErrInvalidQuery)

	empty, err := svc.Query(ctx, Filter{OrganizationID: "org-c", Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Total)
	assert.Empty(t, empty.Entries)
}

func TestService_QueryCrossTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("non admin refused and recorded", func(t *testing.T) {
		store := NewMemoryStore()
		svc, _ := newTestService(t, store)
		require.NoError(t, store.Write(ctx, &Entry{ID: "x", OrganizationID: "org-b", UserID: "u", Action: "a", CreatedAt: time.Now()}))

		tc := tenantFor(t, "org-a", catalog.RoleOwner, false)
		_, err := svc.QueryCrossTenant(ctx, tc, Filter{OrganizationID: "org-b", Page: 1, Limit: 10}, "investigation")
		assert.ErrorIs(t, err, apperr.ErrCrossTenant)

		events, err := svc.QuerySecurityEvents(ctx, Filter{OrganizationID: "org-a", Page: 1, Limit: 10})
		require.NoError(t, err)
		require.Len(t, events.Entries, 1)
		assert.Equal(t, EventCrossTenantAccess, events.Entries[0].Action)
		assert.Equal(t, RiskHigh, events.Entries[0].RiskLevel)
	})

	t.Run("system admin audited first", func(t *testing.T) {
		store := NewMemoryStore()
		svc, _ := newTestService(t, store)
		require.NoError(t, store.Write(ctx, &Entry{ID: "x", OrganizationID: "org-b", UserID: "u", Action: "a", CreatedAt: time.Now()}))

		tc := tenantFor(t, "org-a", catalog.RoleMember, true, catalog.PermSystemCrossTenantRead)

		_, err := svc.QueryCrossTenant(ctx, tc, Filter{OrganizationID: "org-b", Page: 1, Limit: 10}, "  ")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)

		result, err := svc.QueryCrossTenant(ctx, tc, Filter{OrganizationID: "org-b", Page: 1, Limit: 10}, "incident 42")
		require.NoError(t, err)
		require.Len(t, result.Entries, 1)
		assert.Equal(t, "org-b", result.Entries[0].OrganizationID)

		own, err := svc.Query(ctx, Filter{OrganizationID: "org-a", Actions: []string{ActionCrossTenantQuery}, Page: 1, Limit: 10})
		require.NoError(t, err)
		require.Len(t, own.Entries, 1)
		assert.Equal(t, "org-b", own.Entries[0].Metadata["target_organization_id"])
		assert.Equal(t, "incident 42", own.Entries[0].Metadata["reason"])
	})

	t.Run("aborts when the audit write fails", func(t *testing.T) {
		store := newFlakyStore(ActionCrossTenantQuery)
		svc, _ := newTestService(t, store)
		tc := tenantFor(t, "org-a", catalog.RoleMember, true, catalog.PermSystemCrossTenantRead)

		_, err := svc.QueryCrossTenant(ctx, tc, Filter{Page: 1, Limit: 10}, "incident 42")
		assert.Error(t, err)
	})
}

func TestService_Compensate(t *testing.T) {
	store := NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	tc := tenantFor(t, "org-a", catalog.RoleAdmin, false)

	original := &Entry{OrganizationID: "org-a", UserID: "u", Action: ActionMemberRoleChanged}
	require.NoError(t, svc.Log(ctx, original))
	foreign := &Entry{OrganizationID: "org-b", UserID: "u", Action: ActionMemberRoleChanged}
	require.NoError(t, svc.Log(ctx, foreign))

	_, err := svc.Compensate(ctx, tc, original.ID, "", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Compensate(ctx, tc, foreign.ID, "wrong role recorded", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	entry, err := svc.Compensate(ctx, tc, original.ID, "wrong role recorded", map[string]interface{}{"role": "member"})
	require.NoError(t, err)
	assert.Equal(t, ActionCompensation, entry.Action)
	assert.Equal(t, original.ID, entry.Metadata["compensates"])

	unchanged, err := store.Get(ctx, "org-a", original.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionMemberRoleChanged, unchanged.Action)
	assert.Len(t, store.All(), 3)
}

func TestService_RecordDenial(t *testing.T) {
	tc := tenantFor(t, "org-a", catalog.RoleMember, false)

	tests := []struct {
		name     string
		decision rbac.Decision
		action   string
		security bool
		risk     RiskLevel
	}{
		{"cross tenant", rbac.Decision{Reason: rbac.ReasonCrossTenant}, EventCrossTenantAccess, true, RiskHigh},
		{"escalation", rbac.Decision{Reason: rbac.ReasonEscalationAttempt, Missing: []catalog.Permission{catalog.PermBillingManage}}, EventEscalationAttempt, true, RiskHigh},
		{"missing permission", rbac.Decision{Reason: rbac.ReasonMissingPermission, Missing: []catalog.Permission{catalog.PermAuditRead}}, ActionAccessDenied, false, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			svc, _ := newTestService(t, store)

			svc.RecordDenial(context.Background(), tc, tt.decision, "/orgs/{org_id}/members", "org-b")

			stored := store.All()
			require.Len(t, stored, 1)
			assert.Equal(t, tt.action, stored[0].Action)
			assert.Equal(t, tt.security, stored[0].IsSecurityEvent)
			assert.Equal(t, tt.risk, stored[0].RiskLevel)
			assert.Equal(t, StatusBlocked, stored[0].Status)
			assert.Equal(t, "org-b", stored[0].Metadata["target_organization_id"])
		})
	}

	store := NewMemoryStore()
	svc, _ := newTestService(t, store)
	svc.RecordDenial(context.Background(), tc, rbac.Decision{Allowed: true, Reason: rbac.ReasonAllowed}, "/x", "")
	assert.Empty(t, store.All())
}

func TestService_ImplementsDenialRecorder(t *testing.T) {
	var _ rbac.DenialRecorder = (*Service)(nil)
}
