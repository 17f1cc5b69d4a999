// Package rbac evaluates permission checks against a resolved TenantContext.
//
// The Engine is pure: it reads the immutable context and returns a Decision.
//
//	d := engine.Check(tc, workspace.OrganizationID, []catalog.Permission{catalog.PermWorkspacesRead})
//	if !d.Allowed {
//		return d.Err()
//	}
//
// Rules run in a fixed order:
//
//	cross_tenant        resource belongs to another organization
//	missing_permission  a required permission is not held
//	escalation_attempt  the operation would grant something the caller lacks
//
// Guard wraps the engine for HTTP handlers. It records every denial through a
// DenialRecorder (the audit service) and offers Require and RequireHidden
// middleware; the latter answers denials with 404 for routes that must not
// reveal whether a resource exists in another tenant.
package rbac
