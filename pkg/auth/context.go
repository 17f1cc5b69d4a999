package auth

import (
	"context"

	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
)

// TenantContext is the per-request authorization snapshot. It is built once
// by the Resolver and never modified, so it can be read from any goroutine
// serving the request. Revocations become visible on the next request.
type TenantContext struct {
	userID         string
	organizationID string
	role           catalog.Role
	permissions    catalog.PermissionSet
	isSystemAdmin  bool
	sessionID      string
}

// NewTenantContext builds a context. perms is copied.
func NewTenantContext(userID, organizationID string, role catalog.Role, perms catalog.PermissionSet, isSystemAdmin bool) *TenantContext {
	return &TenantContext{
		userID:         userID,
		organizationID: organizationID,
		role:           role,
		permissions:    perms.Clone(),
		isSystemAdmin:  isSystemAdmin,
	}
}

// WithSession returns a copy of tc bound to the authenticating session.
func (tc *TenantContext) WithSession(sessionID string) *TenantContext {
	cp := *tc
	cp.sessionID = sessionID
	return &cp
}

func (tc *TenantContext) UserID() string         { return tc.userID }
func (tc *TenantContext) OrganizationID() string { return tc.organizationID }
func (tc *TenantContext) Role() catalog.Role     { return tc.role }
func (tc *TenantContext) IsSystemAdmin() bool    { return tc.isSystemAdmin }

// SessionID is the session the caller authenticated with, or "" for tokens.
func (tc *TenantContext) SessionID() string { return tc.sessionID }

// Permissions returns a copy of the effective permission set.
func (tc *TenantContext) Permissions() catalog.PermissionSet {
	return tc.permissions.Clone()
}

// HasPermission reports whether p is in the effective set.
func (tc *TenantContext) HasPermission(p catalog.Permission) bool {
	return tc.permissions.Has(p)
}

// HasAll reports whether every permission in perms is in the effective set.
func (tc *TenantContext) HasAll(perms ...catalog.Permission) bool {
	return tc.permissions.HasAll(perms...)
}

// Missing returns the permissions in perms the caller does not hold.
func (tc *TenantContext) Missing(perms ...catalog.Permission) []catalog.Permission {
	return tc.permissions.Missing(perms...)
}

// WithTenant stores tc on ctx.
func WithTenant(ctx context.Context, tc *TenantContext) context.Context {
	ctx = contextkeys.WithTenant(ctx, tc)
	return contextkeys.WithUserID(ctx, tc.UserID())
}

// FromContext returns the tenant context stored by the tenant middleware.
func FromContext(ctx context.Context) (*TenantContext, bool) {
	tc, ok := ctx.Value(contextkeys.TenantKey).(*TenantContext)
	return tc, ok && tc != nil
}
