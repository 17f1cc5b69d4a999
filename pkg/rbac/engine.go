package rbac

import (
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Engine evaluates permission checks against a resolved TenantContext.
// It performs no I/O and never blocks.
type Engine struct {
	metrics *observability.Metrics
}

// NewEngine creates an engine. metrics may be nil.
func NewEngine(metrics *observability.Metrics) *Engine {
	return &Engine{metrics: metrics}
}

// Check decides whether tc may act on a resource owned by resourceOrgID.
// An empty resourceOrgID means the resource lives in the caller's own
// organization.
//
// Rules are applied in order and the first failure wins:
//  1. a resource in another organization is denied as cross_tenant unless the
//     caller is a system admin and the resource is CrossTenantVisible
//  2. every required permission must be held, else missing_permission
//  3. every permission being granted must be held, else escalation_attempt
func (e *Engine) Check(tc *auth.TenantContext, resourceOrgID string, required []catalog.Permission, opts ...CheckOption) Decision {
	d := e.evaluate(tc, resourceOrgID, required, opts)
	e.metrics.RecordDecision(d.Allowed, string(d.Reason))
	return d
}

// CheckGrant is Check for an operation whose only requirement is that the
// caller already holds everything in requested.
func (e *Engine) CheckGrant(tc *auth.TenantContext, resourceOrgID string, requested []catalog.Permission) Decision {
	return e.Check(tc, resourceOrgID, nil, Granting(requested...))
}

func (e *Engine) evaluate(tc *auth.TenantContext, resourceOrgID string, required []catalog.Permission, opts []CheckOption) Decision {
	if tc == nil {
		return deny(ReasonUnauthenticated, nil)
	}

	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !SameTenant(tc, resourceOrgID) {
		if !(tc.IsSystemAdmin() && o.crossTenantVisible) {
			return deny(ReasonCrossTenant, nil)
		}
	}

	if missing := tc.Missing(required...); len(missing) > 0 {
		return deny(ReasonMissingPermission, missing)
	}

	if missing := tc.Missing(o.granting...); len(missing) > 0 {
		return deny(ReasonEscalationAttempt, missing)
	}

	return allow()
}

// SameTenant reports whether resourceOrgID is the caller's organization.
func SameTenant(tc *auth.TenantContext, resourceOrgID string) bool {
	return resourceOrgID == "" || resourceOrgID == tc.OrganizationID()
}
