package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
)

func TestCachingLoader_HitsAndInvalidate(t *testing.T) {
	memberships := newMemMemberships(&Membership{UserID: "alice", OrganizationID: "org-a", Role: catalog.RoleAdmin})
	admins := &memAdmins{records: map[string][]*AdminRecord{}}
	c := NewCachingLoader(memberships, admins, 16, time.Hour, nil)
	ctx := context.Background()

	m, err := c.Membership(ctx, "alice", "org-a")
	require.NoError(t, err)
	assert.Equal(t, catalog.RoleAdmin, m.Role)

	_, err = c.Membership(ctx, "alice", "org-a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&memberships.calls))

	// Demote, then invalidate as the membership service does.
	memberships.mu.Lock()
	memberships.rows["alice"]["org-a"] = &Membership{UserID: "alice", OrganizationID: "org-a", Role: catalog.RoleMember}
	memberships.mu.Unlock()
	c.Invalidate(ctx, "alice")

	m, err = c.Membership(ctx, "alice", "org-a")
	require.NoError(t, err)
	assert.Equal(t, catalog.RoleMember, m.Role)
	assert.Equal(t, int32(2), atomic.LoadInt32(&memberships.calls))
}

func TestCachingLoader_MissesAreNotCached(t *testing.T) {
	memberships := newMemMemberships()
	c := NewCachingLoader(memberships, &memAdmins{}, 16, time.Hour, nil)
	ctx := context.Background()

	_, err := c.Membership(ctx, "alice", "org-a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	memberships.mu.Lock()
	memberships.rows["alice"] = map[string]*Membership{"org-a": {UserID: "alice", OrganizationID: "org-a", Role: catalog.RoleMember}}
	memberships.mu.Unlock()

	m, err := c.Membership(ctx, "alice", "org-a")
	require.NoError(t, err)
	assert.Equal(t, "org-a", m.OrganizationID)
}

func TestCachingLoader_AdminRevocationVisibleAfterInvalidate(t *testing.T) {
	rec := &AdminRecord{UserID: "root", Permissions: []catalog.Permission{catalog.PermSystemManageAdmins}}
	admins := &memAdmins{records: map[string][]*AdminRecord{"root": {rec}}}
	c := NewCachingLoader(newMemMemberships(), admins, 16, time.Hour, nil)
	ctx := context.Background()

	got, err := c.ActiveAdminRecords(ctx, "root")
	require.NoError(t, err)
	require.Len(t, got, 1)

	revoked := time.Now()
	admins.mu.Lock()
	admins.records["root"] = []*AdminRecord{{UserID: "root", RevokedAt: &revoked}}
	admins.mu.Unlock()
	c.Invalidate(ctx, "root")

	got, err = c.ActiveAdminRecords(ctx, "root")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCachingLoader_StaleFillDropped(t *testing.T) {
	memberships := newMemMemberships(&Membership{UserID: "alice", OrganizationID: "org-a", Role: catalog.RoleOwner})
	c := NewCachingLoader(memberships, &memAdmins{}, 16, time.Hour, nil)
	ctx := context.Background()

	snap, ok := c.snapshot(ctx, "alice")
	require.True(t, ok)
	c.Invalidate(ctx, "bob")
	c.store("alice", snap, func(u *cachedUser) {
		u.memberships["org-a"] = &Membership{Role: catalog.RoleOwner}
	})
	assert.Equal(t, 0, c.Len())
}

func TestCachingLoader_DefaultMembershipReadsThrough(t *testing.T) {
	memberships := newMemMemberships(&Membership{UserID: "alice", OrganizationID: "org-a", Role: catalog.RoleMember})
	c := NewCachingLoader(memberships, &memAdmins{}, 16, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m, err := c.DefaultMembership(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "org-a", m.OrganizationID)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&memberships.calls))
}

func TestCachingLoader_TouchUpdatesCachedCopy(t *testing.T) {
	memberships := newMemMemberships(&Membership{UserID: "alice", OrganizationID: "org-a", Role: catalog.RoleMember})
	c := NewCachingLoader(memberships, &memAdmins{}, 16, time.Hour, nil)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	_, err := c.Membership(ctx, "alice", "org-a")
	require.NoError(t, err)
	require.NoError(t, c.TouchMembership(ctx, "alice", "org-a", at))
	assert.Equal(t, int32(1), atomic.LoadInt32(&memberships.touches))

	m, err := c.Membership(ctx, "alice", "org-a")
	require.NoError(t, err)
	require.NotNil(t, m.LastActiveAt)
	assert.True(t, m.LastActiveAt.Equal(at))
	assert.Equal(t, int32(1), atomic.LoadInt32(&memberships.calls), "served from cache")
}

func setupVersions(t *testing.T) (*RedisVersions, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisVersions(client), mr
}

func TestCachingLoader_InvalidationReachesOtherInstances(t *testing.T) {
	versions, _ := setupVersions(t)
	rec := &AdminRecord{UserID: "root", Permissions: []catalog.Permission{catalog.PermSystemManageAdmins}}
	admins := &memAdmins{records: map[string][]*AdminRecord{"root": {rec}}}
	memberships := newMemMemberships(&Membership{UserID: "root", OrganizationID: "org-a", Role: catalog.RoleAdmin})
	instanceA := NewCachingLoader(memberships, admins, 16, time.Hour, nil).WithVersions(versions)
	instanceB := NewCachingLoader(memberships, admins, 16, time.Hour, nil).WithVersions(versions)
	ctx := context.Background()

	for _, c := range []*CachingLoader{instanceA, instanceB} {
		got, err := c.ActiveAdminRecords(ctx, "root")
		require.NoError(t, err)
		require.Len(t, got, 1)
		_, err = c.Membership(ctx, "root", "org-a")
		require.NoError(t, err)
	}
	adminCalls := atomic.LoadInt32(&admins.calls)

	// Warm caches serve hits.
	_, err := instanceB.ActiveAdminRecords(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, adminCalls, atomic.LoadInt32(&admins.calls))

	revoked := time.Now()
	admins.mu.Lock()
	admins.records["root"] = []*AdminRecord{{UserID: "root", RevokedAt: &revoked}}
	admins.mu.Unlock()
	memberships.mu.Lock()
	memberships.rows["root"]["org-a"] = &Membership{UserID: "root", OrganizationID: "org-a", Role: catalog.RoleMember}
	memberships.mu.Unlock()
	instanceA.Invalidate(ctx, "root")

	for name, c := range map[string]*CachingLoader{"A": instanceA, "B": instanceB} {
		got, err := c.ActiveAdminRecords(ctx, "root")
		require.NoError(t, err)
		assert.Empty(t, got, "instance %s still sees the revoked record", name)

		m, err := c.Membership(ctx, "root", "org-a")
		require.NoError(t, err)
		assert.Equal(t, catalog.RoleMember, m.Role, "instance %s still sees the old role", name)
	}

	current, err := versions.Current(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestCachingLoader_BypassesCacheWithoutVersions(t *testing.T) {
	versions, mr := setupVersions(t)
	rec := &AdminRecord{UserID: "root", Permissions: []catalog.Permission{catalog.PermSystemManageAdmins}}
	admins := &memAdmins{records: map[string][]*AdminRecord{"root": {rec}}}
	c := NewCachingLoader(newMemMemberships(), admins, 16, time.Hour, nil).WithVersions(versions)
	ctx := context.Background()

	_, err := c.ActiveAdminRecords(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	mr.Close()
	for i := 0; i < 2; i++ {
		got, err := c.ActiveAdminRecords(ctx, "root")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&admins.calls), "every lookup reads the store while Redis is down")
}
