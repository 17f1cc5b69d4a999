// Package catalog holds the fixed registry of permission identifiers and the
// role to permission-set mapping used by every authorization decision.
//
// A Catalog is built once at startup and never mutated afterwards. Unknown
// roles or permission identifiers are reported by New, never at request time.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPermission is returned when an identifier is not registered.
var ErrUnknownPermission = errors.New("unknown permission")

// ErrUnknownRole is returned for role names outside owner, admin and member.
var ErrUnknownRole = errors.New("unknown role")

// Catalog is the immutable permission registry.
type Catalog struct {
	known map[Permission]struct{}
	roles map[Role]PermissionSet
}

// Extension adds downstream permissions to the built-in catalog.
//
//	permissions:
//	  - reports:read
//	  - reports:schedule
//	roles:
//	  member: [reports:read]
//	  admin: [reports:schedule]
//
// A permission granted to a lower tier is inherited by every higher tier.
type Extension struct {
	Permissions []Permission          `yaml:"permissions"`
	Roles       map[Role][]Permission `yaml:"roles"`
}

// LoadExtension reads an Extension from a YAML file.
func LoadExtension(path string) (*Extension, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog extension: %w", err)
	}
	return ParseExtension(data)
}

// ParseExtension decodes an Extension from YAML bytes.
func ParseExtension(data []byte) (*Extension, error) {
	var ext Extension
	if err := yaml.Unmarshal(data, &ext); err != nil {
		return nil, fmt.Errorf("failed to parse catalog extension: %w", err)
	}
	return &ext, nil
}

// New builds a catalog from the built-in tiers plus the optional extensions.
func New(extensions ...*Extension) (*Catalog, error) {
	c := &Catalog{known: make(map[Permission]struct{})}

	builtin := [][]Permission{memberPermissions, adminPermissions, ownerOnlyPermissions, systemPermissions}
	for _, group := range builtin {
		for _, p := range group {
			c.known[p] = struct{}{}
		}
	}

	grants := map[Role][]Permission{
		RoleMember: append([]Permission(nil), memberPermissions...),
		RoleAdmin:  append([]Permission(nil), adminPermissions...),
		RoleOwner:  append([]Permission(nil), ownerOnlyPermissions...),
	}

	for _, ext := range extensions {
		if ext == nil {
			continue
		}
		for _, p := range ext.Permissions {
			if !p.WellFormed() {
				return nil, fmt.Errorf("malformed permission identifier %q", p)
			}
			if System(p) || OwnerOnly(p) {
				continue
			}
			c.known[p] = struct{}{}
		}
		for role, perms := range ext.Roles {
			if !role.Valid() {
				return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
			}
			for _, p := range perms {
				if _, ok := c.known[p]; !ok {
					return nil, fmt.Errorf("role %s: %w: %q", role, ErrUnknownPermission, p)
				}
				if System(p) {
					return nil, fmt.Errorf("role %s: system permission %q cannot be granted by role", role, p)
				}
				if OwnerOnly(p) && role != RoleOwner {
					return nil, fmt.Errorf("role %s: %q is reserved for owners", role, p)
				}
			}
			grants[role] = append(grants[role], perms...)
		}
	}

	member := NewPermissionSet(grants[RoleMember]...)
	admin := member.Union(grants[RoleAdmin]...)
	owner := admin.Union(grants[RoleOwner]...)

	c.roles = map[Role]PermissionSet{
		RoleMember: member,
		RoleAdmin:  admin,
		RoleOwner:  owner,
	}

	if err := c.verify(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNew is New for callers that treat a bad catalog as fatal.
func MustNew(extensions ...*Extension) *Catalog {
	c, err := New(extensions...)
	if err != nil {
		panic(err)
	}
	return c
}

var defaultCatalog = MustNew()

// Default returns the built-in catalog without extensions.
func Default() *Catalog {
	return defaultCatalog
}

func (c *Catalog) verify() error {
	for _, role := range Roles {
		set, ok := c.roles[role]
		if !ok || len(set) == 0 {
			return fmt.Errorf("role %s has no permissions", role)
		}
		for p := range set {
			if _, known := c.known[p]; !known {
				return fmt.Errorf("role %s: %w: %q", role, ErrUnknownPermission, p)
			}
		}
	}
	if !c.roles[RoleOwner].HasAll(c.roles[RoleAdmin].Slice()...) ||
		!c.roles[RoleAdmin].HasAll(c.roles[RoleMember].Slice()...) {
		return errors.New("role hierarchy owner >= admin >= member does not hold")
	}
	for _, p := range ownerOnlyPermissions {
		if c.roles[RoleAdmin].Has(p) {
			return fmt.Errorf("admin must not hold owner permission %q", p)
		}
	}
	return nil
}

// RolePermissions returns a copy of the permission set for role.
func (c *Catalog) RolePermissions(role Role) (PermissionSet, error) {
	set, ok := c.roles[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return set.Clone(), nil
}

// Known reports whether p is registered.
func (c *Catalog) Known(p Permission) bool {
	_, ok := c.known[p]
	return ok
}

// Validate checks every identifier in perms against the registry.
func (c *Catalog) Validate(perms ...Permission) error {
	for _, p := range perms {
		if !c.Known(p) {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, p)
		}
	}
	return nil
}

// All returns every registered permission, sorted.
func (c *Catalog) All() []Permission {
	set := make(PermissionSet, len(c.known))
	for p := range c.known {
		set[p] = struct{}{}
	}
	return set.Slice()
}
