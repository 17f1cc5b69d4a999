package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// MembershipLoader reads memberships. The lookups return apperr.ErrNotFound
// when the user has no matching membership.
type MembershipLoader interface {
	Membership(ctx context.Context, userID, organizationID string) (*Membership, error)
	// DefaultMembership returns the most recently active membership.
	DefaultMembership(ctx context.Context, userID string) (*Membership, error)
	// TouchMembership moves last_active_at forward to at. It never moves it
	// back and is a no-op for a missing membership.
	TouchMembership(ctx context.Context, userID, organizationID string, at time.Time) error
}

// activityInterval bounds how often a membership's activity time is written
const activityInterval = time.Minute

// AdminLoader returns a user's admin records that have not been revoked.
type AdminLoader interface {
	ActiveAdminRecords(ctx context.Context, userID string) ([]*AdminRecord, error)
}

// Resolver builds a TenantContext from a credential. It has no audit side
// effects; callers decide what to record about a failure.
type Resolver struct {
	authn       Authenticator
	memberships MembershipLoader
	admins      AdminLoader
	catalog     *catalog.Catalog
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	now         func() time.Time
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithMetrics records authentication failures on m
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithResolverClock overrides the clock used for activity tracking
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithOTelMetrics records resolve latency on m
func WithOTelMetrics(m *observability.OTelMetrics) ResolverOption {
	return func(r *Resolver) { r.otelMetrics = m }
}

// NewResolver creates a resolver
func NewResolver(authn Authenticator, memberships MembershipLoader, admins AdminLoader, cat *catalog.Catalog, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		authn:       authn,
		memberships: memberships,
		admins:      admins,
		catalog:     cat,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates cred and loads the caller's membership in
// organizationID, or in their default organization when organizationID is
// empty. Working in an explicit organization makes it the default for
// later requests.
//
// Errors wrap apperr.ErrUnauthenticated or apperr.ErrNoMembership for caller
// problems. Anything else is a backend failure.
func (r *Resolver) Resolve(ctx context.Context, cred Credential, organizationID string) (tc *TenantContext, err error) {
	ctx, span := observability.Tracer().Start(ctx, "auth.Resolve")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.PublicMessage(err))
		}
		span.End()
		r.otelMetrics.RecordResolve(ctx, time.Since(start), err)
	}()

	principal, err := r.authn.Authenticate(ctx, cred)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) {
			r.metrics.RecordAuthFailure(string(cred.Kind))
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", principal.UserID))

	var (
		membership *Membership
		records    []*AdminRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if organizationID != "" {
			membership, err = r.memberships.Membership(gctx, principal.UserID, organizationID)
		} else {
			membership, err = r.memberships.DefaultMembership(gctx, principal.UserID)
		}
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("%w: user %s", apperr.ErrNoMembership, principal.UserID)
		}
		if err != nil {
			return fmt.Errorf("failed to load membership: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		records, err = r.admins.ActiveAdminRecords(gctx, principal.UserID)
		if err != nil {
			return fmt.Errorf("failed to load admin records: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tc, err = r.build(ctx, membership, records)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("org.id", tc.OrganizationID()),
		attribute.Bool("system_admin", tc.IsSystemAdmin()),
	)
	if organizationID != "" {
		r.touch(ctx, membership)
	}
	return tc.WithSession(principal.SessionID), nil
}

// touch records activity on m. Failures are logged; they never fail the
// request.
func (r *Resolver) touch(ctx context.Context, m *Membership) {
	now := r.now()
	if m.LastActiveAt != nil && now.Sub(*m.LastActiveAt) < activityInterval {
		return
	}
	if err := r.memberships.TouchMembership(ctx, m.UserID, m.OrganizationID, now); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("organization_id", m.OrganizationID).
			Warn("failed to record membership activity")
	}
}

func (r *Resolver) build(ctx context.Context, m *Membership, records []*AdminRecord) (*TenantContext, error) {
	perms, err := r.catalog.RolePermissions(m.Role)
	if err != nil {
		return nil, fmt.Errorf("membership %s/%s: %w", m.OrganizationID, m.UserID, err)
	}

	grant := func(p catalog.Permission) {
		if !r.catalog.Known(p) {
			observability.FromContext(ctx).
				WithField("permission", string(p)).
				WithField("user_id", m.UserID).
				Warn("ignoring unknown permission grant")
			return
		}
		perms[p] = struct{}{}
	}

	for _, p := range m.Overrides {
		grant(p)
	}

	isSystemAdmin := false
	for _, rec := range records {
		if !rec.AppliesTo(m.OrganizationID) {
			continue
		}
		for _, p := range rec.Permissions {
			grant(p)
		}
		if rec.SystemWide() {
			isSystemAdmin = true
		}
	}

	return NewTenantContext(m.UserID, m.OrganizationID, m.Role, perms, isSystemAdmin), nil
}
