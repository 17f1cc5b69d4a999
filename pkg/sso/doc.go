// Package sso signs browsers in through an external OpenID Connect
// provider.
//
//	GET /auth/oidc/login     redirect to the provider with state and nonce
//	GET /auth/oidc/callback  verify, map the subject, issue a session cookie
//
// The state and nonce travel in a short-lived HttpOnly cookie scoped to
// /auth/oidc. The verified (issuer, subject) pair must already be linked
// to a local user through auth.IdentityResolver; unknown subjects and
// state mismatches are recorded as medium-risk security events.
//
// Sessions created here are ordinary sessions.Manager sessions, so they are
// listed and revoked through /api/v1/sessions like any other.
package sso
