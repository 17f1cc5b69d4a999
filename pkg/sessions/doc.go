// Package sessions tracks logins per user across devices.
//
// A session is active while it is unrevoked and has seen activity within the
// timeout (30 days by default). Expiry is derived, never stored. Revocation
// is one-way and idempotent, and each one writes a session_revoked audit
// entry carrying the reason.
//
// RevokeAllOthers runs as one store transaction. The Postgres store locks the
// user's row for both session creation and the batch so that a concurrent
// login cannot slip past it.
//
// Manager implements auth.SessionValidator, which is how session cookies
// become principals.
package sessions
