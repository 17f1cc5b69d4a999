package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// PostgresStore implements Store using PostgreSQL.
//
// Create and RevokeAllExcept both lock the owning users row, so a login
// racing a revoke-all either lands before the batch (and is revoked by it)
// or after it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, user_id, browser, os, is_mobile, ip_address, user_agent,
		       created_at, last_activity_at, revoked_at`

func lockUser(ctx context.Context, tx *sql.Tx, userID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

// Create implements Store
func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockUser(ctx, tx, s.UserID); err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (id, user_id, browser, os, is_mobile, ip_address, user_agent, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, query, s.ID, s.UserID, s.Device.Browser, s.Device.OS, s.Device.Mobile,
		s.IPAddress, s.UserAgent, s.CreatedAt, s.LastActivityAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	s := &Session{}
	var revokedAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.Device.Browser, &s.Device.OS, &s.Device.Mobile,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastActivityAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

// Get implements Store
func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListByUser implements Store
func (p *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1
		ORDER BY last_activity_at DESC, id DESC
	`
	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

// Revoke implements Store
func (p *PostgresStore) Revoke(ctx context.Context, userID, sessionID string, at time.Time) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var revokedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT revoked_at FROM sessions WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		sessionID, userID).Scan(&revokedAt)
	if err == sql.ErrNoRows {
		return false, apperr.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock session: %w", err)
	}
	if revokedAt.Valid {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = $1 WHERE id = $2`, at, sessionID); err != nil {
		return false, fmt.Errorf("failed to revoke session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit revocation: %w", err)
	}
	return true, nil
}

// RevokeAllExcept implements Store
func (p *PostgresStore) RevokeAllExcept(ctx context.Context, userID, keepID string, activeSince, at time.Time) ([]string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockUser(ctx, tx, userID); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM sessions
		WHERE user_id = $1 AND id <> $2 AND revoked_at IS NULL AND last_activity_at >= $3
		ORDER BY id
		FOR UPDATE
	`, userID, keepID, activeSince)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	if len(ids) > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET revoked_at = $1 WHERE id = ANY($2)`, at, pq.Array(ids))
		if err != nil {
			return nil, fmt.Errorf("failed to revoke sessions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revocation: %w", err)
	}
	return ids, nil
}

// Touch implements Store
func (p *PostgresStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $1 WHERE id = $2 AND revoked_at IS NULL AND last_activity_at < $1`,
		at, id)
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	return nil
}
