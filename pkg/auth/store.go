package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// PostgresTokenStore persists API tokens and external identity links
type PostgresTokenStore struct {
	db *sql.DB
}

// NewPostgresTokenStore creates a new PostgresTokenStore
func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// CreateToken stores a token record. Only the hash and display prefix are written.
func (s *PostgresTokenStore) CreateToken(ctx context.Context, token *APIToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}

	query := `
		INSERT INTO api_tokens (id, user_id, token_hash, token_prefix, name, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.TokenPrefix, token.Name, token.ExpiresAt,
	).Scan(&token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// GetTokenByHash implements TokenStore
func (s *PostgresTokenStore) GetTokenByHash(ctx context.Context, tokenHash string) (*APIToken, error) {
	query := `
		SELECT id, user_id, token_hash, token_prefix, name, expires_at, created_at, revoked_at
		FROM api_tokens
		WHERE token_hash = $1
	`
	token := &APIToken{}
	var expiresAt, revokedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.TokenPrefix, &token.Name,
		&expiresAt, &token.CreatedAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}
	return token, nil
}

// RevokeToken marks a token revoked. Revoking twice keeps the first timestamp.
func (s *PostgresTokenStore) RevokeToken(ctx context.Context, userID, tokenID string) error {
	query := `
		UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, NOW())
		WHERE id = $1 AND user_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, tokenID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if rows == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UserIDForSubject implements IdentityResolver
func (s *PostgresTokenStore) UserIDForSubject(ctx context.Context, issuer, subject string) (string, error) {
	query := `SELECT user_id FROM user_identities WHERE issuer = $1 AND subject = $2`

	var userID string
	err := s.db.QueryRowContext(ctx, query, issuer, subject).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperr.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve identity: %w", err)
	}
	return userID, nil
}
