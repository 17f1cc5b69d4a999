package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the tenantguard schema in apply order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and organizations",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					slug TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					subscription_status TEXT NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS memberships (
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
					permission_overrides TEXT[] NOT NULL DEFAULT '{}',
					last_active_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, organization_id)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_one_owner
					ON memberships(organization_id) WHERE role = 'owner';
				CREATE INDEX IF NOT EXISTS idx_memberships_org ON memberships(organization_id);
			`,
		},
		{
			Version:     3,
			Description: "Create sessions",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					browser TEXT NOT NULL DEFAULT '',
					os TEXT NOT NULL DEFAULT '',
					is_mobile BOOLEAN NOT NULL DEFAULT FALSE,
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_active
					ON sessions(user_id, last_activity_at DESC) WHERE revoked_at IS NULL;
			`,
		},
		{
			Version:     4,
			Description: "Create admin records",
			SQL: `
				CREATE TABLE IF NOT EXISTS admin_records (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					organization_id TEXT REFERENCES organizations(id) ON DELETE CASCADE,
					permissions TEXT[] NOT NULL DEFAULT '{}',
					granted_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_admin_records_user
					ON admin_records(user_id) WHERE revoked_at IS NULL;
			`,
		},
		{
			Version:     5,
			Description: "Create audit logs",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id TEXT PRIMARY KEY,
					organization_id TEXT,
					user_id TEXT NOT NULL,
					action TEXT NOT NULL,
					resource TEXT NOT NULL DEFAULT '',
					resource_id TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					risk_level TEXT NOT NULL,
					is_security_event BOOLEAN NOT NULL DEFAULT FALSE,
					event_type TEXT,
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					request_id TEXT NOT NULL DEFAULT '',
					metadata JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_org_created ON audit_logs(organization_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_security
					ON audit_logs(created_at DESC) WHERE is_security_event;
			`,
		},
		{
			Version:     6,
			Description: "Audit logs are append-only",
			SQL: `
				CREATE OR REPLACE FUNCTION audit_logs_immutable() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'audit_logs is append-only';
				END;
				$$ LANGUAGE plpgsql;

				DROP TRIGGER IF EXISTS audit_logs_no_update ON audit_logs;
				CREATE TRIGGER audit_logs_no_update
					BEFORE UPDATE OR DELETE ON audit_logs
					FOR EACH ROW EXECUTE FUNCTION audit_logs_immutable();
			`,
		},
		{
			Version:     7,
			Description: "Create workspaces",
			SQL: `
				CREATE TABLE IF NOT EXISTS workspaces (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name TEXT NOT NULL,
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_workspaces_org ON workspaces(organization_id);
			`,
		},
		{
			Version:     8,
			Description: "Create API tokens and external identities",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_tokens (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					token_prefix TEXT NOT NULL,
					name TEXT NOT NULL DEFAULT '',
					expires_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMPTZ
				);

				CREATE TABLE IF NOT EXISTS user_identities (
					issuer TEXT NOT NULL,
					subject TEXT NOT NULL,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					PRIMARY KEY (issuer, subject)
				);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range Migrations() {
		if applied[migration.Version] {
			continue
		}

		log := logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
