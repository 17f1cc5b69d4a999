// Package postgres holds the shared storage plumbing: the PostgreSQL
// connection manager with round-robin read replicas, the versioned schema
// migrations, and the Redis client constructor used by the authentication
// throttle.
//
// Domain stores (memberships, sessions, admin records, audit logs,
// workspaces, API tokens) live in their own packages and take a *sql.DB
// from ConnectionManager.Primary or ConnectionManager.Replica.
package postgres
