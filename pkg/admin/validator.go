package admin

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Validator answers privilege questions for sensitive operations.
type Validator struct {
	admins auth.AdminLoader
	engine *rbac.Engine
	audit  *audit.Service
}

// NewValidator creates a validator. admins should read the store directly,
// not through a cache.
func NewValidator(admins auth.AdminLoader, engine *rbac.Engine, auditService *audit.Service) *Validator {
	return &Validator{admins: admins, engine: engine, audit: auditService}
}

// IsSystemAdmin reports whether userID holds an active system-wide admin
// record. Lookup failures are logged and answered with false.
func (v *Validator) IsSystemAdmin(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	records, err := v.admins.ActiveAdminRecords(ctx, userID)
	if err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("user_id", userID).
			Error("system admin lookup failed; treating as non-admin")
		return false
	}
	for _, r := range records {
		if r.SystemWide() {
			return true
		}
	}
	return false
}

// PreventEscalation fails with apperr.ErrEscalationAttempt when requested
// contains a permission tc does not hold. The high-risk security event is
// written before it returns.
func (v *Validator) PreventEscalation(ctx context.Context, tc *auth.TenantContext, resource string, requested []catalog.Permission) error {
	if tc == nil {
		return apperr.ErrUnauthenticated
	}

	d := v.engine.CheckGrant(tc, tc.OrganizationID(), requested)
	if d.Allowed {
		return nil
	}

	v.audit.RecordSecurityEvent(ctx, &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.EventEscalationAttempt,
		Resource:       resource,
		Status:         audit.StatusBlocked,
		RiskLevel:      audit.RiskHigh,
		Metadata: map[string]interface{}{
			"requested": catalog.PermissionStrings(requested),
			"missing":   catalog.PermissionStrings(d.Missing),
		},
	})
	return fmt.Errorf("%w: %v", apperr.ErrEscalationAttempt, catalog.PermissionStrings(d.Missing))
}

// PreventCrossTenantAccess reports whether userID acting from callerOrgID
// may reach targetOrgID.
func (v *Validator) PreventCrossTenantAccess(ctx context.Context, userID, callerOrgID, targetOrgID string) bool {
	if callerOrgID != "" && callerOrgID == targetOrgID {
		return true
	}
	return v.IsSystemAdmin(ctx, userID)
}
