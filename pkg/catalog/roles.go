package catalog

import "fmt"

// Role is an organization-level role. The three tiers are fixed.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Roles lists every valid role from most to least privileged.
var Roles = []Role{RoleOwner, RoleAdmin, RoleMember}

// Valid reports whether r is one of the three fixed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Rank orders roles so that a higher rank covers every lower one.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

// ParseRole validates a role name read from a request or a row.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// memberPermissions is the base tier. Admin and owner inherit it.
var memberPermissions = []Permission{
	PermOrgRead,
	PermMembersRead,
	PermWorkspacesRead,
	PermWorkspacesCreate,
}

var adminPermissions = []Permission{
	PermOrgUpdate,
	PermMembersInvite,
	PermMembersUpdateRole,
	PermMembersRemove,
	PermWorkspacesUpdate,
	PermWorkspacesDelete,
	PermAuditRead,
	PermAuditExport,
	PermSecurityRead,
	PermAdminManageUsers,
}

// ownerOnlyPermissions never reach admin or member, not even through an extension.
var ownerOnlyPermissions = []Permission{
	PermBillingRead,
	PermBillingManage,
	PermOrgDelete,
	PermOrgTransferOwnership,
}

var systemPermissions = []Permission{
	PermSystemManageAdmins,
	PermSystemCrossTenantRead,
}

// OwnerOnly reports whether p is reserved for the organization owner.
func OwnerOnly(p Permission) bool {
	for _, o := range ownerOnlyPermissions {
		if o == p {
			return true
		}
	}
	return false
}

// System reports whether p is a system permission granted only by AdminRecords.
func System(p Permission) bool {
	for _, s := range systemPermissions {
		if s == p {
			return true
		}
	}
	return false
}
