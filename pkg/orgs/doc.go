// Package orgs manages organizations and memberships.
//
// A membership binds one user to one organization with a role and optional
// permission overrides. Every organization has exactly one owner: the owner
// role cannot be assigned through AddMember or UpdateMemberRole, the owner
// cannot be removed, and TransferOwnership swaps the role between two
// members in a single transaction.
//
// PostgresStore doubles as the auth.MembershipLoader used by the tenant
// resolver. Service invalidates the resolver cache for each affected user
// before returning, so role changes apply to the next request.
package orgs
