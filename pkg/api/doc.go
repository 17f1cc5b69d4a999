// Package api assembles the public HTTP surface.
//
// NewServer mounts every package's Handlers under /api/v1 behind the tenant
// middleware, so each handler runs with a resolved auth.TenantContext:
//
//	GET    /api/v1/sessions
//	POST   /api/v1/sessions                        (issue a session cookie)
//	DELETE /api/v1/sessions/{id}
//	POST   /api/v1/sessions/revoke-others
//	POST   /api/v1/tokens
//	DELETE /api/v1/tokens/{id}
//	GET    /api/v1/audit/logs
//	GET    /api/v1/audit/security-events
//	GET    /api/v1/audit/export
//	GET    /api/v1/orgs/{org_id}
//	PATCH  /api/v1/orgs/{org_id}/members/{user_id}
//	POST   /api/v1/orgs/{org_id}/transfer-ownership
//	POST   /api/v1/admin/system-admins
//	GET    /api/v1/workspaces
//	GET    /api/v1/orgs/{org_id}/workspaces/{id}
//
// Options.Public handlers sit outside /api/v1 and skip the tenant
// middleware. The browser login flow of package sso lives there:
//
//	GET    /auth/oidc/login
//	GET    /auth/oidc/callback
//
// The router applies panic recovery, request ids, request logging, client
// info capture, body limits and Prometheus metrics. Health probes and
// /metrics are served on the separate health port (see
// observability.RegisterHealthRoutes).
package api
