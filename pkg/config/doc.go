// Package config loads tenantguard configuration from TENANTGUARD_*
// environment variables.
//
// Server:
//
//	TENANTGUARD_HOST="0.0.0.0"
//	TENANTGUARD_PORT="8080"
//	TENANTGUARD_HEALTH_PORT="9090"
//	TENANTGUARD_SHUTDOWN_TIMEOUT="30s"
//	TENANTGUARD_TRUSTED_PROXIES="10.0.0.0/8"   (only these may set X-Forwarded-For)
//
// Database (required):
//
//	TENANTGUARD_POSTGRES_URL="postgres://localhost/tenantguard?sslmode=disable"
//	TENANTGUARD_POSTGRES_REPLICA_URLS="postgres://replica1/tenantguard,postgres://replica2/tenantguard"
//	TENANTGUARD_POSTGRES_MAX_CONNS="20"
//
// Redis enables the shared authentication-failure throttle:
//
//	TENANTGUARD_REDIS_URL="redis://localhost:6379"
//	TENANTGUARD_AUTH_THROTTLE_MAX="10"
//	TENANTGUARD_AUTH_THROTTLE_WINDOW="1m"
//
// Sessions and audit:
//
//	TENANTGUARD_SESSION_TIMEOUT="720h"
//	TENANTGUARD_SESSION_COOKIE_SECURE="true"
//	TENANTGUARD_AUDIT_WRITE_TIMEOUT="500ms"
//	TENANTGUARD_AUDIT_FILE_DIR="/var/log/tenantguard"
//	TENANTGUARD_AUDIT_ARCHIVE_BUCKET="tenantguard-audit"
//	TENANTGUARD_SECURITY_MONITOR_SCHEDULE="*/5 * * * *"
//	TENANTGUARD_ALERT_WEBHOOK_URLS="https://hooks.slack.com/services/..."
//	TENANTGUARD_ALERT_WEBHOOK_FORMAT="slack"
//
// Authentication and catalog:
//
//	TENANTGUARD_OIDC_ISSUER_URL="https://accounts.example.com"
//	TENANTGUARD_OIDC_CLIENT_ID="tenantguard"
//	TENANTGUARD_OIDC_CLIENT_SECRET="..."               (enables /auth/oidc/login)
//	TENANTGUARD_OIDC_REDIRECT_URL="https://tenantguard.example.com/auth/oidc/callback"
//	TENANTGUARD_OIDC_POST_LOGIN_URL="/"
//	TENANTGUARD_CATALOG_FILE="/etc/tenantguard/permissions.yaml"
//
// Observability:
//
//	TENANTGUARD_LOG_LEVEL="info"
//	TENANTGUARD_METRICS_ENABLED="true"
//	TENANTGUARD_OTEL_ENABLED="false"
//	TENANTGUARD_OTEL_ENDPOINT="localhost:4317"
//
// LoadConfig validates the result and fails fast on inconsistent settings.
package config
