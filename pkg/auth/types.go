package auth

import (
	"time"

	"github.com/platinummonkey/tenantguard/pkg/catalog"
)

// Membership binds a user to an organization with a role and optional
// explicit permission grants on top of that role.
type Membership struct {
	UserID         string               `json:"user_id"`
	OrganizationID string               `json:"organization_id"`
	Role           catalog.Role         `json:"role"`
	Overrides      []catalog.Permission `json:"overrides,omitempty"`
	LastActiveAt   *time.Time           `json:"last_active_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// AdminRecord grants elevated permissions. A nil OrganizationID makes it
// system-wide. Revocation is one-way.
type AdminRecord struct {
	ID             string               `json:"id"`
	UserID         string               `json:"user_id"`
	OrganizationID *string              `json:"organization_id,omitempty"`
	Permissions    []catalog.Permission `json:"permissions"`
	GrantedBy      string               `json:"granted_by,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	RevokedAt      *time.Time           `json:"revoked_at,omitempty"`
}

// Active reports whether the record still grants anything.
func (r *AdminRecord) Active() bool {
	return r != nil && r.RevokedAt == nil
}

// SystemWide reports whether the record is an active system-admin grant.
func (r *AdminRecord) SystemWide() bool {
	return r.Active() && r.OrganizationID == nil
}

// AppliesTo reports whether the record's permissions apply inside orgID.
func (r *AdminRecord) AppliesTo(orgID string) bool {
	if !r.Active() {
		return false
	}
	return r.OrganizationID == nil || *r.OrganizationID == orgID
}

// APIToken is the stored form of a bearer token. The plaintext is shown once
// at creation and never persisted.
type APIToken struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Usable reports whether the token is neither revoked nor expired at now.
func (t *APIToken) Usable(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return t.ExpiresAt == nil || now.Before(*t.ExpiresAt)
}
