// Package workspaces is the reference tenant-scoped resource. List and get
// always filter on the caller's organization, and fetches addressed to
// another organization return 404.
package workspaces
