package workspaces

import (
	"context"
	"strings"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
)

// Service reads and writes workspaces for the caller's organization. Route
// authorization happens in the HTTP layer; the service only ever passes the
// caller's own organization id to the store.
type Service struct {
	store Store
	audit *audit.Service
}

// NewService creates a workspace service
func NewService(store Store, auditService *audit.Service) *Service {
	return &Service{store: store, audit: auditService}
}

// List returns the workspaces of the caller's organization
func (s *Service) List(ctx context.Context, tc *auth.TenantContext) ([]*Workspace, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}
	return s.store.List(ctx, tc.OrganizationID())
}

// Get fetches one workspace. A workspace in another organization is
// reported as not found.
func (s *Service) Get(ctx context.Context, tc *auth.TenantContext, id string) (*Workspace, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}
	return s.store.Get(ctx, tc.OrganizationID(), id)
}

// Create adds a workspace to the caller's organization
func (s *Service) Create(ctx context.Context, tc *auth.TenantContext, name string) (*Workspace, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidInput("name", "is required")
	}
	if len(name) > 128 {
		return nil, apperr.InvalidInput("name", "must be at most 128 characters")
	}

	w := &Workspace{OrganizationID: tc.OrganizationID(), Name: name, CreatedBy: tc.UserID()}
	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: w.OrganizationID,
		UserID:         tc.UserID(),
		Action:         audit.ActionWorkspaceCreated,
		Resource:       "workspace",
		ResourceID:     w.ID,
		Metadata:       map[string]interface{}{"name": w.Name},
	})
	return w, nil
}

// Delete removes a workspace from the caller's organization
func (s *Service) Delete(ctx context.Context, tc *auth.TenantContext, id string) error {
	if tc == nil {
		return apperr.ErrUnauthenticated
	}
	if err := s.store.Delete(ctx, tc.OrganizationID(), id); err != nil {
		return err
	}
	s.audit.Record(ctx, &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.ActionWorkspaceDeleted,
		Resource:       "workspace",
		ResourceID:     id,
		RiskLevel:      audit.RiskMedium,
	})
	return nil
}
