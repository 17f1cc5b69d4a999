package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Recorder receives the session_revoked entries. *audit.Service satisfies it.
type Recorder interface {
	Record(ctx context.Context, e *audit.Entry)
}

// Manager creates, lists, validates and revokes sessions.
type Manager struct {
	store    Store
	recorder Recorder
	metrics  *observability.Metrics
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a session manager
func NewManager(store Store, recorder Recorder, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		recorder: recorder,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the inactivity window after which sessions expire
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Create starts a new session for an authenticated user.
func (m *Manager) Create(ctx context.Context, userID, ipAddress, userAgent string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.InvalidInput("user_id", "is required")
	}

	now := m.now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Device:         ParseUserAgent(userAgent),
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.metrics.RecordSessionCreated()
	observability.FromContext(ctx).
		WithField("session_id", s.ID).
		WithField("user_id", userID).
		Debug("session created")
	return s, nil
}

// List returns the caller's sessions, newest activity first, marking the
// one the request authenticated with.
func (m *Manager) List(ctx context.Context, tc *auth.TenantContext) ([]*View, error) {
	if tc == nil {
		return nil, apperr.ErrUnauthenticated
	}

	sessions, err := m.store.ListByUser(ctx, tc.UserID())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := m.now()
	views := make([]*View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, &View{
			Session:   s,
			IsCurrent: tc.SessionID() != "" && s.ID == tc.SessionID(),
			IsActive:  s.Active(now, m.timeout),
		})
	}
	return views, nil
}

// Revoke revokes one of the caller's sessions. Sessions of other users are
// reported as apperr.ErrNotFound. Revoking an already revoked session
// succeeds without writing another audit entry.
func (m *Manager) Revoke(ctx context.Context, tc *auth.TenantContext, sessionID, reason string) error {
	if tc == nil {
		return apperr.ErrUnauthenticated
	}
	if reason == "" {
		reason = ReasonUserRequested
	}

	revoked, err := m.store.Revoke(ctx, tc.UserID(), sessionID, m.now().UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if !revoked {
		return nil
	}

	m.metrics.RecordSessionsRevoked("single", 1)
	m.recordRevocation(ctx, tc, sessionID, reason, "single")
	return nil
}

// RevokeAllOthers revokes every active session of the caller except the one
// the request authenticated with, in a single batch. Callers authenticated
// without a session have no current session to keep. It returns the number
// of sessions revoked.
func (m *Manager) RevokeAllOthers(ctx context.Context, tc *auth.TenantContext, reason string) (int, error) {
	if tc == nil {
		return 0, apperr.ErrUnauthenticated
	}
	if reason == "" {
		reason = ReasonRevokeAllOthers
	}

	now := m.now().UTC()
	ids, err := m.store.RevokeAllExcept(ctx, tc.UserID(), tc.SessionID(), now.Add(-m.timeout), now)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	m.metrics.RecordSessionsRevoked("others", len(ids))
	for _, id := range ids {
		m.recordRevocation(ctx, tc, id, reason, "others")
	}
	return len(ids), nil
}

func (m *Manager) recordRevocation(ctx context.Context, tc *auth.TenantContext, sessionID, reason, mode string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ctx, &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.ActionSessionRevoked,
		Resource:       "session",
		ResourceID:     sessionID,
		Metadata: map[string]interface{}{
			"reason":             reason,
			"mode":               mode,
			"current_session_id": tc.SessionID(),
		},
	})
}

// ValidateSession implements auth.SessionValidator. Revoked, expired and
// unknown sessions fail with apperr.ErrUnauthenticated; valid ones have
// their activity refreshed.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (string, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown session", apperr.ErrUnauthenticated)
		}
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	now := m.now().UTC()
	if !s.Active(now, m.timeout) {
		return "", fmt.Errorf("%w: session is no longer active", apperr.ErrUnauthenticated)
	}

	if err := m.store.Touch(ctx, s.ID, now); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("session_id", s.ID).Warn("failed to refresh session activity")
	}
	return s.UserID, nil
}
