package orgs

import (
	"time"

	"github.com/platinummonkey/tenantguard/pkg/catalog"
)

// SubscriptionStatus represents an organization's billing state
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Organization is a tenant
type Organization struct {
	ID                 string             `json:"id"`
	Slug               string             `json:"slug"`
	Name               string             `json:"name"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// AddMemberRequest adds a user to an organization
type AddMemberRequest struct {
	UserID    string               `json:"user_id"`
	Role      catalog.Role         `json:"role"`
	Overrides []catalog.Permission `json:"overrides,omitempty"`
}

// UpdateRoleRequest changes a member's role
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// TransferOwnershipRequest hands the owner role to another member
type TransferOwnershipRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}
