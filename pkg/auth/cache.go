package auth

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Invalidator drops cached authorization state for a user. Services that
// change memberships or admin records call it before returning.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Versions is a per-user generation counter shared by every instance. A
// cached entry is only served while the version it was loaded under is
// still current.
type Versions interface {
	Current(ctx context.Context, userID string) (int64, error)
	Bump(ctx context.Context, userID string) error
}

type cachedUser struct {
	version      int64
	memberships  map[string]*Membership
	admins       []*AdminRecord
	adminsLoaded bool
}

func (u *cachedUser) clone() *cachedUser {
	cp := &cachedUser{memberships: make(map[string]*Membership)}
	if u == nil {
		return cp
	}
	for k, v := range u.memberships {
		cp.memberships[k] = v
	}
	cp.version = u.version
	cp.admins = u.admins
	cp.adminsLoaded = u.adminsLoaded
	return cp
}

// CachingLoader caches membership and admin lookups per user. Entries are
// dropped synchronously by Invalidate; the TTL only bounds memory for idle
// users. Lookup misses are never cached, and neither is the default
// membership, which moves with every organization switch.
//
// With WithVersions every lookup first reads the user's shared version, so
// an invalidation on one instance is seen by all of them on their next
// check. When the version cannot be read the cache is bypassed.
type CachingLoader struct {
	memberships MembershipLoader
	admins      AdminLoader
	metrics     *observability.Metrics
	versions    Versions

	mu         sync.Mutex
	generation uint64
	cache      *lru.LRU[string, *cachedUser]
}

// NewCachingLoader wraps the given loaders
func NewCachingLoader(memberships MembershipLoader, admins AdminLoader, size int, ttl time.Duration, metrics *observability.Metrics) *CachingLoader {
	if size < 1 {
		size = 1024
	}
	return &CachingLoader{
		memberships: memberships,
		admins:      admins,
		metrics:     metrics,
		cache:       lru.NewLRU[string, *cachedUser](size, nil, ttl),
	}
}

// WithVersions shares invalidations with other instances through v
func (c *CachingLoader) WithVersions(v Versions) *CachingLoader {
	c.versions = v
	return c
}

type snapshot struct {
	entry      *cachedUser
	generation uint64
	version    int64
}

// snapshot returns the usable cache entry for userID. ok is false when the
// shared version is unavailable and nothing may be read from or written to
// the cache.
func (c *CachingLoader) snapshot(ctx context.Context, userID string) (snapshot, bool) {
	var version int64
	if c.versions != nil {
		v, err := c.versions.Current(ctx, userID)
		if err != nil {
			observability.FromContext(ctx).
				WithError(err).
				WithField("user_id", userID).
				Warn("authorization cache bypassed: shared version unavailable")
			return snapshot{}, false
		}
		version = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, _ := c.cache.Get(userID)
	if entry != nil && entry.version != version {
		c.cache.Remove(userID)
		entry = nil
	}
	return snapshot{entry: entry, generation: c.generation, version: version}, true
}

// store applies fill unless an invalidation happened after snap was taken.
func (c *CachingLoader) store(userID string, snap snapshot, fill func(*cachedUser)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != snap.generation {
		return
	}
	cur, _ := c.cache.Peek(userID)
	if cur != nil && cur.version != snap.version {
		cur = nil
	}
	next := cur.clone()
	next.version = snap.version
	fill(next)
	c.cache.Add(userID, next)
}

// Membership implements MembershipLoader
func (c *CachingLoader) Membership(ctx context.Context, userID, organizationID string) (*Membership, error) {
	snap, ok := c.snapshot(ctx, userID)
	if ok && snap.entry != nil {
		if m, hit := snap.entry.memberships[organizationID]; hit {
			c.metrics.RecordCacheLookup("membership", true)
			return m, nil
		}
	}
	c.metrics.RecordCacheLookup("membership", false)

	m, err := c.memberships.Membership(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(userID, snap, func(u *cachedUser) { u.memberships[organizationID] = m })
	}
	return m, nil
}

// DefaultMembership implements MembershipLoader. It always reads through.
func (c *CachingLoader) DefaultMembership(ctx context.Context, userID string) (*Membership, error) {
	return c.memberships.DefaultMembership(ctx, userID)
}

// TouchMembership implements MembershipLoader. The cached copy gets the new
// activity time so the resolver does not touch it again right away.
func (c *CachingLoader) TouchMembership(ctx context.Context, userID, organizationID string, at time.Time) error {
	if err := c.memberships.TouchMembership(ctx, userID, organizationID, at); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.cache.Peek(userID)
	if !ok {
		return nil
	}
	m, ok := cur.memberships[organizationID]
	if !ok {
		return nil
	}
	touched := *m
	touched.LastActiveAt = &at
	next := cur.clone()
	next.memberships[organizationID] = &touched
	c.cache.Add(userID, next)
	return nil
}

// ActiveAdminRecords implements AdminLoader
func (c *CachingLoader) ActiveAdminRecords(ctx context.Context, userID string) ([]*AdminRecord, error) {
	snap, ok := c.snapshot(ctx, userID)
	if ok && snap.entry != nil && snap.entry.adminsLoaded {
		c.metrics.RecordCacheLookup("admin", true)
		return snap.entry.admins, nil
	}
	c.metrics.RecordCacheLookup("admin", false)

	records, err := c.admins.ActiveAdminRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(userID, snap, func(u *cachedUser) {
			u.admins = records
			u.adminsLoaded = true
		})
	}
	return records, nil
}

// Invalidate implements Invalidator. Loads already in flight for any user
// will not be written back. The shared version is bumped so that other
// instances drop their copy on their next lookup.
func (c *CachingLoader) Invalidate(ctx context.Context, userID string) {
	c.mu.Lock()
	c.generation++
	c.cache.Remove(userID)
	c.mu.Unlock()

	if c.versions == nil {
		return
	}
	if err := c.versions.Bump(ctx, userID); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("user_id", userID).
			Error("failed to publish authorization cache invalidation")
	}
}

// Len returns the number of cached users
func (c *CachingLoader) Len() int {
	return c.cache.Len()
}
