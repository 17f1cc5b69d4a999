package rbac

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
)

// Reason explains a Decision
type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonCrossTenant       Reason = "cross_tenant"
	ReasonMissingPermission Reason = "missing_permission"
	ReasonEscalationAttempt Reason = "escalation_attempt"
)

// Decision is the result of a permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
	// Missing lists required or granted permissions the caller lacks.
	Missing []catalog.Permission `json:"missing,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true, Reason: ReasonAllowed}
}

func deny(reason Reason, missing []catalog.Permission) Decision {
	return Decision{Allowed: false, Reason: reason, Missing: missing}
}

// Err converts a denial into the matching apperr sentinel. It returns nil
// for an allowed decision.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthenticated:
		return apperr.ErrUnauthenticated
	case ReasonCrossTenant:
		return apperr.ErrCrossTenant
	case ReasonEscalationAttempt:
		return fmt.Errorf("%w: %s", apperr.ErrEscalationAttempt, joinPermissions(d.Missing))
	default:
		return fmt.Errorf("%w: %s", apperr.ErrForbidden, joinPermissions(d.Missing))
	}
}

func joinPermissions(perms []catalog.Permission) string {
	return strings.Join(catalog.PermissionStrings(perms), ",")
}

// CheckOption adjusts a single Check
type CheckOption func(*checkOptions)

type checkOptions struct {
	crossTenantVisible bool
	granting           []catalog.Permission
}

// CrossTenantVisible marks the resource as readable by system admins from
// outside its organization.
func CrossTenantVisible() CheckOption {
	return func(o *checkOptions) { o.crossTenantVisible = true }
}

// Granting declares permissions the operation would hand to someone else.
// Every one of them must already be held by the caller.
func Granting(perms ...catalog.Permission) CheckOption {
	return func(o *checkOptions) { o.granting = append(o.granting, perms...) }
}
