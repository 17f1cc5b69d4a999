package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogHierarchy(t *testing.T) {
	c := Default()

	owner, err := c.RolePermissions(RoleOwner)
	require.NoError(t, err)
	admin, err := c.RolePermissions(RoleAdmin)
	require.NoError(t, err)
	member, err := c.RolePermissions(RoleMember)
	require.NoError(t, err)

	assert.True(t, owner.HasAll(admin.Slice()...), "owner must cover admin")
	assert.True(t, admin.HasAll(member.Slice()...), "admin must cover member")

	for _, p := range []Permission{PermBillingManage, PermBillingRead, PermOrgDelete, PermOrgTransferOwnership} {
		assert.True(t, owner.Has(p), "owner should hold %s", p)
		assert.False(t, admin.Has(p), "admin must not hold %s", p)
		assert.False(t, member.Has(p), "member must not hold %s", p)
	}
}

func TestRolePermissionsIsTotal(t *testing.T) {
	c := Default()
	for _, role := range Roles {
		t.Run(string(role), func(t *testing.T) {
			set, err := c.RolePermissions(role)
			require.NoError(t, err)
			assert.NotEmpty(t, set)
		})
	}

	_, err := c.RolePermissions(Role("superuser"))
	assert.True(t, errors.Is(err, ErrUnknownRole))
}

func TestRolePermissionsReturnsCopy(t *testing.T) {
	c := Default()
	set, err := c.RolePermissions(RoleMember)
	require.NoError(t, err)

	set[PermBillingManage] = struct{}{}

	again, err := c.RolePermissions(RoleMember)
	require.NoError(t, err)
	assert.False(t, again.Has(PermBillingManage))
}

func TestSystemPermissionsNotInRoles(t *testing.T) {
	c := Default()
	owner, err := c.RolePermissions(RoleOwner)
	require.NoError(t, err)

	assert.False(t, owner.Has(PermSystemManageAdmins))
	assert.False(t, owner.Has(PermSystemCrossTenantRead))
	assert.True(t, c.Known(PermSystemManageAdmins))
}

func TestNewWithExtension(t *testing.T) {
	ext, err := ParseExtension([]byte(`
permissions:
  - reports:read
  - reports:schedule
roles:
  member: [reports:read]
  admin: [reports:schedule]
`))
	require.NoError(t, err)

	c, err := New(ext)
	require.NoError(t, err)

	member, _ := c.RolePermissions(RoleMember)
	admin, _ := c.RolePermissions(RoleAdmin)
	owner, _ := c.RolePermissions(RoleOwner)

	assert.True(t, member.Has("reports:read"))
	assert.False(t, member.Has("reports:schedule"))
	assert.True(t, admin.HasAll("reports:read", "reports:schedule"))
	assert.True(t, owner.HasAll("reports:read", "reports:schedule"))
	assert.NoError(t, c.Validate("reports:read", PermOrgRead))
}

func TestNewRejectsBadExtensions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown role",
			yaml: "roles:\n  superuser: [org:read]\n",
			want: "unknown role",
		},
		{
			name: "unknown permission",
			yaml: "roles:\n  member: [reports:read]\n",
			want: "unknown permission",
		},
		{
			name: "malformed identifier",
			yaml: "permissions: [reports]\n",
			want: "malformed permission",
		},
		{
			name: "owner permission to admin",
			yaml: "roles:\n  admin: [billing:manage]\n",
			want: "reserved for owners",
		},
		{
			name: "system permission to owner",
			yaml: "roles:\n  owner: [system:manage_admins]\n",
			want: "system permission",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := ParseExtension([]byte(tt.yaml))
			require.NoError(t, err)

			_, err = New(ext)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("permissions: [exports:run]\nroles:\n  admin: [exports:run]\n"), 0o600))

	ext, err := LoadExtension(path)
	require.NoError(t, err)
	assert.Equal(t, []Permission{"exports:run"}, ext.Permissions)

	_, err = LoadExtension(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	assert.NoError(t, c.Validate(PermOrgRead, PermAuditRead))

	err := c.Validate(PermOrgRead, "reports:read")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPermission))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)
	assert.Greater(t, RoleOwner.Rank(), RoleAdmin.Rank())
	assert.Greater(t, RoleAdmin.Rank(), RoleMember.Rank())

	_, err = ParseRole("viewer")
	assert.Error(t, err)
}

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet(PermOrgRead, PermMembersRead)

	assert.True(t, set.Has(PermOrgRead))
	assert.Equal(t, []Permission{PermAuditRead, PermBillingManage}, set.Missing(PermBillingManage, PermOrgRead, PermAuditRead))

	union := set.Union(PermAuditRead)
	assert.Len(t, union, 3)
	assert.Len(t, set, 2)

	assert.Equal(t, []string{"members:read", "org:read"}, set.Strings())
	assert.Equal(t, []Permission{"a:b", "c:d"}, ParsePermissions([]string{"a:b", " ", "c:d"}))
	assert.Equal(t, "org", PermOrgRead.Namespace())
	assert.False(t, Permission("org:").WellFormed())
	assert.False(t, Permission("org read").WellFormed())
}
