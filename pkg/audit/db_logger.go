package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// PostgresStore is the authoritative audit store
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a database-backed audit store
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresStore{db: db}, nil
}

// Write implements Sink
func (s *PostgresStore) Write(ctx context.Context, e *Entry) error {
	var metadataJSON []byte
	if len(e.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			id, organization_id, user_id, action, resource, resource_id,
			status, risk_level, is_security_event, event_type,
			ip_address, user_agent, request_id, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, nullString(e.OrganizationID), e.UserID, e.Action, e.Resource, e.ResourceID,
		string(e.Status), string(e.RiskLevel), e.IsSecurityEvent, nullString(e.EventType),
		e.IPAddress, e.UserAgent, e.RequestID, metadataJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Query implements Store
func (s *PostgresStore) Query(ctx context.Context, filter Filter) (*ListResult, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	where, args := buildWhere(filter)

	result := &ListResult{Entries: []*Entry{}, Page: filter.Page, Limit: filter.Limit}
	countQuery := "SELECT COUNT(*) FROM audit_logs" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}
	if result.Total == 0 {
		return result, nil
	}

	argCount := len(args) + 1
	query := `
		SELECT
			id, organization_id, user_id, action, resource, resource_id,
			status, risk_level, is_security_event, event_type,
			ip_address, user_agent, request_id, metadata, created_at
		FROM audit_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &Entry{}
		var orgID, eventType sql.NullString
		var status, risk string
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID, &orgID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID,
			&status, &risk, &e.IsSecurityEvent, &eventType,
			&e.IPAddress, &e.UserAgent, &e.RequestID, &metadataJSON, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.OrganizationID = orgID.String
		e.EventType = eventType.String
		e.Status = Status(status)
		e.RiskLevel = RiskLevel(risk)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		result.Entries = append(result.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return result, nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, organizationID, id string) (*Entry, error) {
	result, err := s.Query(ctx, Filter{OrganizationID: organizationID, Page: 1, Limit: 1, ids: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, apperr.ErrNotFound
	}
	return result.Entries[0], nil
}

// CountSecurityEvents implements Store
func (s *PostgresStore) CountSecurityEvents(ctx context.Context, since time.Time) (map[RiskLevel]int64, error) {
	query := `
		SELECT risk_level, COUNT(*)
		FROM audit_logs
		WHERE is_security_event AND created_at >= $1
		GROUP BY risk_level
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count security events: %w", err)
	}
	defer rows.Close()

	counts := make(map[RiskLevel]int64)
	for rows.Next() {
		var risk string
		var count int64
		if err := rows.Scan(&risk, &count); err != nil {
			return nil, fmt.Errorf("failed to scan security event count: %w", err)
		}
		counts[RiskLevel(risk)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event counts: %w", err)
	}
	return counts, nil
}

func buildWhere(filter Filter) (string, []interface{}) {
	var clauses []string
	args := []interface{}{}
	argCount := 1

	add := func(clause string, arg interface{}) {
		clauses = append(clauses, fmt.Sprintf(clause, argCount))
		args = append(args, arg)
		argCount++
	}

	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if len(filter.ids) > 0 {
		add("id = ANY($%d)", pq.Array(filter.ids))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if len(filter.Actions) > 0 {
		add("action = ANY($%d)", pq.Array(filter.Actions))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.SecurityOnly {
		clauses = append(clauses, "is_security_event")
	}
	if len(filter.RiskLevels) > 0 {
		levels := make([]string, len(filter.RiskLevels))
		for i, r := range filter.RiskLevels {
			levels[i] = string(r)
		}
		add("risk_level = ANY($%d)", pq.Array(levels))
	}
	if filter.Start != nil {
		add("created_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("created_at <= $%d", *filter.End)
	}
	if filter.Search != "" {
		n := argCount
		clauses = append(clauses, fmt.Sprintf("(action ILIKE $%d OR resource ILIKE $%d)", n, n))
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		argCount++
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
