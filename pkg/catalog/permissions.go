package catalog

import (
	"sort"
	"strings"
)

// Permission is a namespaced permission identifier such as "members:invite".
type Permission string

// Built-in permissions. Downstream teams extend the catalog through an
// Extension file rather than by editing this list.
const (
	PermOrgRead              Permission = "org:read"
	PermOrgUpdate            Permission = "org:update"
	PermOrgDelete            Permission = "org:delete"
	PermOrgTransferOwnership Permission = "org:transfer_ownership"

	PermBillingRead   Permission = "billing:read"
	PermBillingManage Permission = "billing:manage"

	PermMembersRead       Permission = "members:read"
	PermMembersInvite     Permission = "members:invite"
	PermMembersUpdateRole Permission = "members:update_role"
	PermMembersRemove     Permission = "members:remove"

	PermWorkspacesRead   Permission = "workspaces:read"
	PermWorkspacesCreate Permission = "workspaces:create"
	PermWorkspacesUpdate Permission = "workspaces:update"
	PermWorkspacesDelete Permission = "workspaces:delete"

	PermAuditRead    Permission = "audit:read"
	PermAuditExport  Permission = "audit:export"
	PermSecurityRead Permission = "security:read"

	PermAdminManageUsers Permission = "admin:manage_users"

	// System permissions are never part of a role. They reach a principal
	// only through a system-wide AdminRecord.
	PermSystemManageAdmins    Permission = "system:manage_admins"
	PermSystemCrossTenantRead Permission = "system:cross_tenant_read"
)

// Namespace returns the part of the identifier before the first colon.
func (p Permission) Namespace() string {
	ns, _, _ := strings.Cut(string(p), ":")
	return ns
}

// WellFormed reports whether p has a non-empty namespace and action.
func (p Permission) WellFormed() bool {
	ns, action, ok := strings.Cut(string(p), ":")
	return ok && ns != "" && action != "" && !strings.ContainsAny(string(p), " \t\n")
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAll reports whether every permission in perms is in the set.
func (s PermissionSet) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Missing returns the permissions in perms that are not in the set, sorted.
func (s PermissionSet) Missing(perms ...Permission) []Permission {
	var missing []Permission
	for _, p := range perms {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	sortPermissions(missing)
	return missing
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Union returns a new set holding the permissions of s and perms.
func (s PermissionSet) Union(perms ...Permission) PermissionSet {
	out := s.Clone()
	for _, p := range perms {
		out[p] = struct{}{}
	}
	return out
}

// Slice returns the permissions sorted lexically.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// Strings returns the permissions as sorted strings, ready for pq.Array.
func (s PermissionSet) Strings() []string {
	return PermissionStrings(s.Slice())
}

// PermissionStrings converts a slice of permissions to strings.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// ParsePermissions converts strings loaded from storage back to permissions.
func ParsePermissions(values []string) []Permission {
	out := make([]Permission, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, Permission(v))
		}
	}
	return out
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}
