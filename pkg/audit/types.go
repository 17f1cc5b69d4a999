package audit

import (
	"strings"
	"time"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// Status is the outcome recorded on an entry
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
	StatusPending Status = "pending"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusBlocked, StatusPending:
		return true
	}
	return false
}

// RiskLevel grades an entry. Every entry carries one; security events
// must set it explicitly.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels lists every level from least to most severe
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Actions written by the core
const (
	ActionSessionRevoked       = "session_revoked"
	ActionMemberAdded          = "member.added"
	ActionMemberRoleChanged    = "member.role_changed"
	ActionMemberRemoved        = "member.removed"
	ActionOwnershipTransferred = "org.ownership_transferred"
	ActionWorkspaceCreated     = "workspace.created"
	ActionWorkspaceDeleted     = "workspace.deleted"
	ActionAdminGranted         = "admin.granted"
	ActionAdminRevoked         = "admin.revoked"
	ActionAccessDenied         = "authz.access_denied"
	ActionCrossTenantQuery     = "audit.cross_tenant_query"
	ActionCompensation         = "audit.compensation"
	ActionExport               = "audit.export"
	ActionTokenCreated         = "token.created"
	ActionTokenRevoked         = "token.revoked"
	ActionSSOLogin             = "auth.sso_login"
)

// Security event types
const (
	EventEscalationAttempt = "authz.escalation_attempt"
	EventCrossTenantAccess = "authz.cross_tenant"
	EventSystemAdminFlag   = "admin.system_flag_attempt"
	EventAuthThrottled     = "auth.throttled"
	EventSSOStateMismatch  = "auth.sso_state_mismatch"
	EventSSOUnknownSubject = "auth.sso_unknown_subject"
)

// Entry is one append-only audit record. Security events are entries with
// IsSecurityEvent set and an EventType.
type Entry struct {
	ID              string                 `json:"id"`
	OrganizationID  string                 `json:"organization_id,omitempty"`
	UserID          string                 `json:"user_id"`
	Action          string                 `json:"action"`
	Resource        string                 `json:"resource,omitempty"`
	ResourceID      string                 `json:"resource_id,omitempty"`
	Status          Status                 `json:"status"`
	RiskLevel       RiskLevel              `json:"risk_level"`
	IsSecurityEvent bool                   `json:"is_security_event"`
	EventType       string                 `json:"event_type,omitempty"`
	IPAddress       string                 `json:"ip_address,omitempty"`
	UserAgent       string                 `json:"user_agent,omitempty"`
	RequestID       string                 `json:"request_id,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func (e *Entry) validate() error {
	if e == nil {
		return apperr.InvalidInput("entry", "is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return apperr.InvalidInput("user_id", "is required")
	}
	if strings.TrimSpace(e.Action) == "" {
		return apperr.InvalidInput("action", "is required")
	}
	if e.Status != "" && !e.Status.Valid() {
		return apperr.InvalidInput("status", "must be one of success, failed, blocked, pending")
	}
	if e.RiskLevel != "" && !e.RiskLevel.Valid() {
		return apperr.InvalidInput("risk_level", "must be one of low, medium, high, critical")
	}
	return nil
}

const (
	// MaxPageSize is the largest accepted limit
	MaxPageSize = 100
	// DefaultPageSize applies when no limit is given
	DefaultPageSize = 50
)

// Filter selects entries. OrganizationID is mandatory except on the
// explicitly audited cross-tenant path.
type Filter struct {
	OrganizationID string
	UserID         string
	Actions        []string
	Status         Status
	// Search is a case-insensitive substring match over action and resource.
	Search       string
	Start        *time.Time
	End          *time.Time
	SecurityOnly bool
	RiskLevels   []RiskLevel

	Page  int
	Limit int

	crossTenant bool
	ids         []string
}

// Validate rejects bad pagination and enum values instead of clamping them.
func (f Filter) Validate() error {
	if f.Page < 1 {
		return apperr.InvalidQuery("page", "must be at least 1")
	}
	if f.Limit < 1 || f.Limit > MaxPageSize {
		return apperr.InvalidQuery("limit", "must be between 1 and 100")
	}
	if f.Status != "" && !f.Status.Valid() {
		return apperr.InvalidQuery("status", "must be one of success, failed, blocked, pending")
	}
	for _, r := range f.RiskLevels {
		if !r.Valid() {
			return apperr.InvalidQuery("risk_level", "must be one of low, medium, high, critical")
		}
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return apperr.InvalidQuery("end_date", "must not be before start_date")
	}
	if !f.crossTenant && strings.TrimSpace(f.OrganizationID) == "" {
		return apperr.InvalidQuery("organization_id", "is required")
	}
	return nil
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.Limit
}

// ListResult is one page of entries plus the total match count
type ListResult struct {
	Entries []*Entry `json:"entries"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// ParseExportFormat validates a format name. Empty means JSON.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return ExportFormatJSON, nil
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	}
	return "", apperr.InvalidQuery("format", "must be one of json, ndjson, csv")
}
