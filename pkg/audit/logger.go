package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// DefaultWriteTimeout bounds each audit write
const DefaultWriteTimeout = 500 * time.Millisecond

// Service records and queries audit entries and security events.
type Service struct {
	sink         Sink
	store        Store
	metrics      *observability.Metrics
	otelMetrics  *observability.OTelMetrics
	writeTimeout time.Duration
	now          func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithSink routes writes through sink instead of writing to the store directly.
// Use it to add a MultiLogger with secondary sinks.
func WithSink(sink Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithOTelMetrics sets the OpenTelemetry metrics
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(s *Service) { s.otelMetrics = m }
}

// WithWriteTimeout overrides DefaultWriteTimeout
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an audit service over store
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		sink:         store,
		store:        store,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log validates and writes one entry. Malformed entries fail with
// apperr.ErrInvalidInput. Callers for whom auditing is not the primary
// operation should use Record instead.
func (s *Service) Log(ctx context.Context, e *Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	return s.write(ctx, e, "entry")
}

// LogSecurityEvent is Log for security events. RiskLevel is required.
func (s *Service) LogSecurityEvent(ctx context.Context, e *Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	if !e.RiskLevel.Valid() {
		return apperr.InvalidInput("risk_level", "is required for security events")
	}
	e.IsSecurityEvent = true
	if e.EventType == "" {
		e.EventType = e.Action
	}

	if err := s.write(ctx, e, "security_event"); err != nil {
		return err
	}
	s.metrics.RecordSecurityEvent(string(e.RiskLevel))
	return nil
}

// Record is Log with the non-fatal failure policy: errors are logged and
// counted for alerting, never returned.
func (s *Service) Record(ctx context.Context, e *Entry) {
	s.reportFailure(ctx, e, "entry", s.Log(ctx, e))
}

// RecordSecurityEvent is LogSecurityEvent with the non-fatal failure policy.
func (s *Service) RecordSecurityEvent(ctx context.Context, e *Entry) {
	s.reportFailure(ctx, e, "security_event", s.LogSecurityEvent(ctx, e))
}

func (s *Service) reportFailure(ctx context.Context, e *Entry, kind string, err error) {
	if err == nil {
		return
	}
	s.metrics.RecordAuditWriteFailure(kind)

	logger := observability.FromContext(ctx).WithError(err).WithField("kind", kind)
	if e != nil {
		logger = logger.WithFields(map[string]interface{}{
			"action":          e.Action,
			"organization_id": e.OrganizationID,
			"risk_level":      string(e.RiskLevel),
		})
	}
	logger.Error("audit write failed")
}

func (s *Service) write(ctx context.Context, e *Entry, kind string) error {
	s.fill(ctx, e)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	start := time.Now()
	err := s.sink.Write(wctx, e)
	s.otelMetrics.RecordAuditWrite(ctx, kind, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to write audit %s: %w", kind, err)
	}
	return nil
}

// fill sets ids, timestamps and request details the caller left empty
func (s *Service) fill(ctx context.Context, e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLow
	}

	client := contextkeys.GetClient(ctx)
	if e.IPAddress == "" {
		e.IPAddress = client.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = client.UserAgent
	}
	if e.RequestID == "" {
		e.RequestID = contextkeys.GetRequestID(ctx)
	}
}

// Query returns one page of entries for filter.OrganizationID.
func (s *Service) Query(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.crossTenant = false
	return s.store.Query(ctx, filter)
}

// QuerySecurityEvents is Query restricted to security events.
func (s *Service) QuerySecurityEvents(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.SecurityOnly = true
	return s.Query(ctx, filter)
}

// QueryCrossTenant lets a system admin read entries outside their own
// organization. An empty filter.OrganizationID reads every tenant.
//
// The read itself is audited first; if that entry cannot be written the
// query does not run. Callers that are not system admins get
// apperr.ErrCrossTenant and a high-risk security event.
func (s *Service) QueryCrossTenant(ctx context.Context, tc *auth.TenantContext, filter Filter, reason string) (*ListResult, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if !tc.IsSystemAdmin() || !tc.HasPermission(catalog.PermSystemCrossTenantRead) {
		s.RecordSecurityEvent(ctx, &Entry{
			OrganizationID: tc.OrganizationID(),
			UserID:         tc.UserID(),
			Action:         EventCrossTenantAccess,
			Resource:       "audit_logs",
			ResourceID:     filter.OrganizationID,
			Status:         StatusBlocked,
			RiskLevel:      RiskHigh,
			Metadata: map[string]interface{}{
				"target_organization_id": filter.OrganizationID,
				"reason":                 string(rbac.ReasonCrossTenant),
			},
		})
		return nil, apperr.ErrCrossTenant
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.InvalidInput("reason", "is required for cross-tenant reads")
	}

	filter.crossTenant = true
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	target := filter.OrganizationID
	if target == "" {
		target = "*"
	}
	err := s.Log(ctx, &Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         ActionCrossTenantQuery,
		Resource:       "audit_logs",
		ResourceID:     target,
		RiskLevel:      RiskMedium,
		Metadata: map[string]interface{}{
			"target_organization_id": target,
			"reason":                 reason,
			"page":                   filter.Page,
			"limit":                  filter.Limit,
		},
	})
	if err != nil {
		return nil, err
	}

	return s.store.Query(ctx, filter)
}

// Compensate writes a correcting entry that references originalID. The
// original must belong to the actor's organization and is never modified.
func (s *Service) Compensate(ctx context.Context, tc *auth.TenantContext, originalID, reason string, correction map[string]interface{}) (*Entry, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.InvalidInput("reason", "is required")
	}

	original, err := s.store.Get(ctx, tc.OrganizationID(), originalID)
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{
		"compensates":     original.ID,
		"original_action": original.Action,
		"reason":          reason,
	}
	if len(correction) > 0 {
		metadata["correction"] = correction
	}

	entry := &Entry{
		OrganizationID: original.OrganizationID,
		UserID:         tc.UserID(),
		Action:         ActionCompensation,
		Resource:       "audit_log",
		ResourceID:     original.ID,
		Metadata:       metadata,
	}
	if err := s.Log(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordDenial implements rbac.DenialRecorder. Cross-tenant and escalation
// denials become high-risk security events; missing permissions are
// recorded as blocked entries.
func (s *Service) RecordDenial(ctx context.Context, tc *auth.TenantContext, d rbac.Decision, resource, targetOrgID string) {
	if tc == nil || d.Allowed {
		return
	}

	metadata := map[string]interface{}{"reason": string(d.Reason)}
	if targetOrgID != "" {
		metadata["target_organization_id"] = targetOrgID
	}
	if len(d.Missing) > 0 {
		metadata["missing"] = catalog.PermissionStrings(d.Missing)
	}

	entry := &Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Resource:       resource,
		Status:         StatusBlocked,
		Metadata:       metadata,
	}

	switch d.Reason {
	case rbac.ReasonCrossTenant:
		entry.Action = EventCrossTenantAccess
		entry.RiskLevel = RiskHigh
		s.RecordSecurityEvent(ctx, entry)
	case rbac.ReasonEscalationAttempt:
		entry.Action = EventEscalationAttempt
		entry.RiskLevel = RiskHigh
		s.RecordSecurityEvent(ctx, entry)
	case rbac.ReasonMissingPermission:
		entry.Action = ActionAccessDenied
		s.Record(ctx, entry)
	}
}
