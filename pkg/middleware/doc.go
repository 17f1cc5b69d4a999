// Package middleware authenticates HTTP requests.
//
// TenantMiddleware reads a bearer token from the Authorization header or a
// session id from the tg_session cookie, picks the organization from the
// X-Organization-ID header (or the org_id query parameter), and resolves a
// TenantContext that downstream handlers read with auth.FromContext.
// Unauthenticated requests get 401 and requests from users without a
// membership get 403.
//
// AuthThrottle counts authentication failures per client IP in fixed Redis
// windows. Once a client exceeds the limit every request from it gets 429
// until the window rolls over, and a medium-risk auth.throttled security
// event is recorded. Redis errors fail open.
package middleware
