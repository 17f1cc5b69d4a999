// Package admin guards elevated privileges.
//
// Validator answers the three privilege questions used by sensitive
// operations: whether a user is a system admin (failing closed on any lookup
// error), whether a grant would escalate the caller's own permissions, and
// whether a caller may cross into another organization.
//
// Service manages admin records. The system-wide flag can only be granted or
// revoked by an existing system admin; every other attempt is refused with
// an escalation error and a critical security event, and nothing is written.
// Changes invalidate the authorization cache for the affected user before
// returning.
package admin
