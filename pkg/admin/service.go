package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// GrantRequest asks for a new admin record. A nil OrganizationID requests
// the system-wide admin flag.
type GrantRequest struct {
	UserID         string               `json:"user_id"`
	OrganizationID *string              `json:"organization_id,omitempty"`
	Permissions    []catalog.Permission `json:"permissions"`
}

// Service grants and revokes admin records.
type Service struct {
	store       Store
	validator   *Validator
	guard       *rbac.Guard
	audit       *audit.Service
	catalog     *catalog.Catalog
	invalidator auth.Invalidator
	now         func() time.Time
}

// NewService creates an admin service. invalidator may be nil when no
// authorization cache is in use.
func NewService(store Store, validator *Validator, guard *rbac.Guard, auditService *audit.Service, cat *catalog.Catalog, invalidator auth.Invalidator) *Service {
	return &Service{
		store:       store,
		validator:   validator,
		guard:       guard,
		audit:       auditService,
		catalog:     cat,
		invalidator: invalidator,
		now:         time.Now,
	}
}

// GrantAdmin creates an admin record.
//
// Only a system admin holding system:manage_admins may grant the system-wide
// flag. Anyone else asking for it, themselves included, gets
// apperr.ErrEscalationAttempt, nothing is written and one critical security
// event is recorded. Organization-scoped grants require admin:manage_users in
// that organization and may only hand out permissions the caller holds.
func (s *Service) GrantAdmin(ctx context.Context, tc *auth.TenantContext, req GrantRequest) (*auth.AdminRecord, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, apperr.InvalidInput("user_id", "is required")
	}

	if req.OrganizationID == nil {
		return s.grantSystem(ctx, tc, req)
	}
	return s.grantOrg(ctx, tc, req)
}

func (s *Service) grantSystem(ctx context.Context, tc *auth.TenantContext, req GrantRequest) (*auth.AdminRecord, error) {
	if !s.mayManageSystemAdmins(ctx, tc) {
		s.recordFlagAttempt(ctx, tc, req.UserID, "grant")
		return nil, fmt.Errorf("%w: system admin flag", apperr.ErrEscalationAttempt)
	}

	perms := req.Permissions
	if len(perms) == 0 {
		for _, p := range s.catalog.All() {
			if catalog.System(p) {
				perms = append(perms, p)
			}
		}
	}
	if err := s.catalog.Validate(perms...); err != nil {
		return nil, apperr.InvalidInput("permissions", err.Error())
	}

	return s.create(ctx, tc, &auth.AdminRecord{UserID: req.UserID, Permissions: perms, GrantedBy: tc.UserID()})
}

func (s *Service) grantOrg(ctx context.Context, tc *auth.TenantContext, req GrantRequest) (*auth.AdminRecord, error) {
	orgID := *req.OrganizationID
	if err := s.guard.Authorize(ctx, tc, "admin_records", orgID, []catalog.Permission{catalog.PermAdminManageUsers}); err != nil {
		return nil, err
	}
	if len(req.Permissions) == 0 {
		return nil, apperr.InvalidInput("permissions", "at least one permission is required")
	}
	if err := s.catalog.Validate(req.Permissions...); err != nil {
		return nil, apperr.InvalidInput("permissions", err.Error())
	}
	for _, p := range req.Permissions {
		if catalog.System(p) {
			return nil, apperr.InvalidInput("permissions", fmt.Sprintf("%s is only valid on system-wide records", p))
		}
	}
	if err := s.validator.PreventEscalation(ctx, tc, "admin_records", req.Permissions); err != nil {
		return nil, err
	}

	return s.create(ctx, tc, &auth.AdminRecord{
		UserID:         req.UserID,
		OrganizationID: &orgID,
		Permissions:    req.Permissions,
		GrantedBy:      tc.UserID(),
	})
}

func (s *Service) create(ctx context.Context, tc *auth.TenantContext, rec *auth.AdminRecord) (*auth.AdminRecord, error) {
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to grant admin: %w", err)
	}
	s.invalidate(ctx, rec.UserID)

	scope := "system"
	if rec.OrganizationID != nil {
		scope = *rec.OrganizationID
	}
	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.ActionAdminGranted,
		Resource:       "admin_record",
		ResourceID:     rec.ID,
		RiskLevel:      audit.RiskMedium,
		Metadata: map[string]interface{}{
			"target_user_id": rec.UserID,
			"scope":          scope,
			"permissions":    catalog.PermissionStrings(rec.Permissions),
		},
	})
	return rec, nil
}

// RevokeAdmin revokes an admin record. Revocation is one-way and takes
// effect on the target's next request.
func (s *Service) RevokeAdmin(ctx context.Context, tc *auth.TenantContext, recordID string) error {
	if tc == nil {
		return apperr.ErrUnauthenticated
	}

	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("failed to load admin record: %w", err)
	}

	if rec.OrganizationID == nil {
		if !s.mayManageSystemAdmins(ctx, tc) {
			s.recordFlagAttempt(ctx, tc, rec.UserID, "revoke")
			return fmt.Errorf("%w: system admin flag", apperr.ErrEscalationAttempt)
		}
	} else if err := s.guard.Authorize(ctx, tc, "admin_records", *rec.OrganizationID, []catalog.Permission{catalog.PermAdminManageUsers}); err != nil {
		return err
	}

	revoked, err := s.store.Revoke(ctx, rec.ID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to revoke admin: %w", err)
	}
	if !revoked {
		return nil
	}
	s.invalidate(ctx, rec.UserID)

	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.ActionAdminRevoked,
		Resource:       "admin_record",
		ResourceID:     rec.ID,
		RiskLevel:      audit.RiskMedium,
		Metadata:       map[string]interface{}{"target_user_id": rec.UserID},
	})
	return nil
}

// mayManageSystemAdmins checks both the request context and the store, so a
// system admin revoked mid-request cannot grant.
func (s *Service) mayManageSystemAdmins(ctx context.Context, tc *auth.TenantContext) bool {
	if !tc.IsSystemAdmin() || !tc.HasPermission(catalog.PermSystemManageAdmins) {
		return false
	}
	return s.validator.IsSystemAdmin(ctx, tc.UserID())
}

func (s *Service) recordFlagAttempt(ctx context.Context, tc *auth.TenantContext, targetUserID, op string) {
	s.audit.RecordSecurityEvent(ctx, &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.EventSystemAdminFlag,
		Resource:       "admin_record",
		ResourceID:     targetUserID,
		Status:         audit.StatusBlocked,
		RiskLevel:      audit.RiskCritical,
		Metadata: map[string]interface{}{
			"operation":      op,
			"target_user_id": targetUserID,
			"self":           targetUserID == tc.UserID(),
		},
	})
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, userID)
	}
}
