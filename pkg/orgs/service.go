package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/tenantguard/pkg/admin"
	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Service manages organizations and their members. Every method authorizes
// the caller against the target organization before touching the store.
type Service struct {
	store       Store
	guard       *rbac.Guard
	validator   *admin.Validator
	audit       *audit.Service
	catalog     *catalog.Catalog
	invalidator auth.Invalidator
}

// NewService creates an organization service. invalidator may be nil.
func NewService(store Store, guard *rbac.Guard, validator *admin.Validator, auditService *audit.Service, cat *catalog.Catalog, invalidator auth.Invalidator) *Service {
	return &Service{
		store:       store,
		guard:       guard,
		validator:   validator,
		audit:       auditService,
		catalog:     cat,
		invalidator: invalidator,
	}
}

// GetOrganization looks an organization up by id, falling back to slug.
// Organizations the caller cannot read are reported as not found.
func (s *Service) GetOrganization(ctx context.Context, tc *auth.TenantContext, idOrSlug string) (*Organization, error) {
	org, err := s.store.GetOrganization(ctx, idOrSlug)
	if errors.Is(err, apperr.ErrNotFound) {
		org, err = s.store.GetOrganizationBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}

	if err := s.guard.Authorize(ctx, tc, "organization", org.ID,
		[]catalog.Permission{catalog.PermOrgRead}, rbac.CrossTenantVisible()); err != nil {
		return nil, hide(err)
	}
	// The admin flag on tc was resolved at request start; a cross-tenant
	// read must still hold an active system record.
	if !s.validator.PreventCrossTenantAccess(ctx, tc.UserID(), tc.OrganizationID(), org.ID) {
		return nil, apperr.ErrNotFound
	}
	return org, nil
}

// ListMembers lists the members of orgID
func (s *Service) ListMembers(ctx context.Context, tc *auth.TenantContext, orgID string) ([]*auth.Membership, error) {
	if err := s.guard.Authorize(ctx, tc, "members", orgID, []catalog.Permission{catalog.PermMembersRead}); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, orgID)
}

// AddMember adds a user with a non-owner role. The caller must hold every
// permission the new member would receive.
func (s *Service) AddMember(ctx context.Context, tc *auth.TenantContext, orgID string, req AddMemberRequest) (*auth.Membership, error) {
	if err := s.guard.Authorize(ctx, tc, "members", orgID, []catalog.Permission{catalog.PermMembersInvite}); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.InvalidInput("user_id", "is required")
	}
	if !req.Role.Valid() {
		return nil, apperr.InvalidInput("role", fmt.Sprintf("unknown role %q", req.Role))
	}
	if req.Role == catalog.RoleOwner {
		return nil, fmt.Errorf("%w: an organization has exactly one owner", apperr.ErrConflict)
	}
	if err := s.catalog.Validate(req.Overrides...); err != nil {
		return nil, apperr.InvalidInput("overrides", err.Error())
	}

	granted, err := s.grantedBy(req.Role, req.Overrides)
	if err != nil {
		return nil, err
	}
	if err := s.validator.PreventEscalation(ctx, tc, "members", granted); err != nil {
		return nil, err
	}

	m := &auth.Membership{UserID: req.UserID, OrganizationID: orgID, Role: req.Role, Overrides: req.Overrides}
	if err := s.store.AddMember(ctx, m); err != nil {
		return nil, err
	}
	s.invalidate(ctx, m.UserID)

	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: orgID,
		UserID:         tc.UserID(),
		Action:         audit.ActionMemberAdded,
		Resource:       "member",
		ResourceID:     m.UserID,
		Metadata:       map[string]interface{}{"role": string(m.Role)},
	})
	return m, nil
}

// UpdateMemberRole changes a member's role. The owner role only moves
// through TransferOwnership, and the caller must already hold every
// permission of the new role.
func (s *Service) UpdateMemberRole(ctx context.Context, tc *auth.TenantContext, orgID, userID string, role catalog.Role) (*auth.Membership, error) {
	if err := s.guard.Authorize(ctx, tc, "members", orgID, []catalog.Permission{catalog.PermMembersUpdateRole}); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperr.InvalidInput("role", fmt.Sprintf("unknown role %q", role))
	}
	if role == catalog.RoleOwner {
		return nil, fmt.Errorf("%w: use ownership transfer to change the owner", apperr.ErrConflict)
	}

	current, err := s.store.Membership(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if current.Role == catalog.RoleOwner {
		return nil, fmt.Errorf("%w: use ownership transfer to change the owner", apperr.ErrConflict)
	}

	granted, err := s.grantedBy(role, nil)
	if err != nil {
		return nil, err
	}
	if err := s.validator.PreventEscalation(ctx, tc, "members", granted); err != nil {
		return nil, err
	}

	if current.Role == role {
		return current, nil
	}
	if err := s.store.UpdateMemberRole(ctx, orgID, userID, role); err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)

	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: orgID,
		UserID:         tc.UserID(),
		Action:         audit.ActionMemberRoleChanged,
		Resource:       "member",
		ResourceID:     userID,
		RiskLevel:      audit.RiskMedium,
		Metadata: map[string]interface{}{
			"from_role": string(current.Role),
			"to_role":   string(role),
		},
	})

	current.Role = role
	return current, nil
}

// RemoveMember removes a non-owner member
func (s *Service) RemoveMember(ctx context.Context, tc *auth.TenantContext, orgID, userID string) error {
	if err := s.guard.Authorize(ctx, tc, "members", orgID, []catalog.Permission{catalog.PermMembersRemove}); err != nil {
		return err
	}

	current, err := s.store.Membership(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if current.Role == catalog.RoleOwner {
		return fmt.Errorf("%w: the owner cannot be removed", apperr.ErrConflict)
	}

	if err := s.store.RemoveMember(ctx, orgID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)

	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: orgID,
		UserID:         tc.UserID(),
		Action:         audit.ActionMemberRemoved,
		Resource:       "member",
		ResourceID:     userID,
		RiskLevel:      audit.RiskMedium,
		Metadata:       map[string]interface{}{"role": string(current.Role)},
	})
	return nil
}

// TransferOwnership makes newOwnerID the owner and demotes the caller to
// admin.
func (s *Service) TransferOwnership(ctx context.Context, tc *auth.TenantContext, orgID, newOwnerID string) error {
	if err := s.guard.Authorize(ctx, tc, "organization", orgID, []catalog.Permission{catalog.PermOrgTransferOwnership}); err != nil {
		return err
	}
	if strings.TrimSpace(newOwnerID) == "" {
		return apperr.InvalidInput("new_owner_id", "is required")
	}
	if newOwnerID == tc.UserID() {
		return apperr.InvalidInput("new_owner_id", "already the owner")
	}

	if err := s.store.TransferOwnership(ctx, orgID, tc.UserID(), newOwnerID); err != nil {
		return err
	}
	s.invalidate(ctx, tc.UserID())
	s.invalidate(ctx, newOwnerID)

	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: orgID,
		UserID:         tc.UserID(),
		Action:         audit.ActionOwnershipTransferred,
		Resource:       "organization",
		ResourceID:     orgID,
		RiskLevel:      audit.RiskHigh,
		Metadata: map[string]interface{}{
			"previous_owner_id": tc.UserID(),
			"new_owner_id":      newOwnerID,
		},
	})
	return nil
}

func (s *Service) grantedBy(role catalog.Role, overrides []catalog.Permission) ([]catalog.Permission, error) {
	perms, err := s.catalog.RolePermissions(role)
	if err != nil {
		return nil, apperr.InvalidInput("role", err.Error())
	}
	return perms.Union(overrides...).Slice(), nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, userID)
	}
}

// hide turns authorization failures into not-found so that callers cannot
// probe for organizations they do not belong to.
func hide(err error) error {
	if errors.Is(err, apperr.ErrCrossTenant) || errors.Is(err, apperr.ErrForbidden) {
		return apperr.ErrNotFound
	}
	return err
}
