package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Sessions      SessionsConfig
	Audit         AuditConfig
	Auth          AuthConfig
	Catalog       CatalogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// TrustedProxies are CIDRs allowed to set X-Forwarded-For
	TrustedProxies []string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	PrimaryURL  string
	ReplicaURLs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
}

// RedisConfig holds Redis settings. An empty URL disables the
// authentication-failure throttle.
type RedisConfig struct {
	URL            string
	Password       string
	DB             int
	ThrottleMax    int
	ThrottleWindow time.Duration
}

// SessionsConfig holds session settings
type SessionsConfig struct {
	Timeout      time.Duration
	CookieName   string
	SecureCookie bool
}

// AuditConfig holds audit settings
type AuditConfig struct {
	WriteTimeout time.Duration
	// FileSinkDir, when set, mirrors every entry to a rotating JSON-lines
	// file in that directory.
	FileSinkDir string

	ArchiveBucket       string
	ArchiveRegion       string
	ArchiveEndpoint     string
	ArchiveAccessKey    string
	ArchiveSecretKey    string
	ArchiveUsePathStyle bool

	MonitorSchedule  string
	MonitorWindow    time.Duration
	MonitorThreshold int64

	// Alert webhooks receive monitor threshold alerts
	AlertWebhookURLs   []string
	AlertWebhookSecret string
	AlertWebhookFormat string
}

// AuthConfig holds credential settings
type AuthConfig struct {
	OIDCIssuerURL string
	OIDCClientID  string
	// Browser login needs the confidential client settings as well
	OIDCClientSecret string
	OIDCRedirectURL  string
	OIDCPostLoginURL string

	CacheSize int
	CacheTTL  time.Duration
}

// CatalogConfig points at an optional YAML permission extension
type CatalogConfig struct {
	ExtensionFile string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Sessions:      loadSessionsConfig(),
		Audit:         loadAuditConfig(),
		Auth:          loadAuthConfig(),
		Catalog:       CatalogConfig{ExtensionFile: getEnv("TENANTGUARD_CATALOG_FILE", "")},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGUARD_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGUARD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGUARD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGUARD_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGUARD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGUARD_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TENANTGUARD_HEALTH_PORT", "9090"),
		TrustedProxies:  getEnvList("TENANTGUARD_TRUSTED_PROXIES"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PrimaryURL:  getEnv("TENANTGUARD_POSTGRES_URL", ""),
		ReplicaURLs: getEnvList("TENANTGUARD_POSTGRES_REPLICA_URLS"),
		MaxConns:    getEnvInt("TENANTGUARD_POSTGRES_MAX_CONNS", 20),
		MinConns:    getEnvInt("TENANTGUARD_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("TENANTGUARD_POSTGRES_TIMEOUT", 5*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:            getEnv("TENANTGUARD_REDIS_URL", ""),
		Password:       getEnv("TENANTGUARD_REDIS_PASSWORD", ""),
		DB:             getEnvInt("TENANTGUARD_REDIS_DB", 0),
		ThrottleMax:    getEnvInt("TENANTGUARD_AUTH_THROTTLE_MAX", 10),
		ThrottleWindow: getEnvDuration("TENANTGUARD_AUTH_THROTTLE_WINDOW", time.Minute),
	}
}

func loadSessionsConfig() SessionsConfig {
	return SessionsConfig{
		Timeout:      getEnvDuration("TENANTGUARD_SESSION_TIMEOUT", 30*24*time.Hour),
		CookieName:   getEnv("TENANTGUARD_SESSION_COOKIE", "tg_session"),
		SecureCookie: getEnvBool("TENANTGUARD_SESSION_COOKIE_SECURE", true),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		WriteTimeout:        getEnvDuration("TENANTGUARD_AUDIT_WRITE_TIMEOUT", 500*time.Millisecond),
		FileSinkDir:         getEnv("TENANTGUARD_AUDIT_FILE_DIR", ""),
		ArchiveBucket:       getEnv("TENANTGUARD_AUDIT_ARCHIVE_BUCKET", ""),
		ArchiveRegion:       getEnv("TENANTGUARD_AUDIT_ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:     getEnv("TENANTGUARD_AUDIT_ARCHIVE_ENDPOINT", ""),
		ArchiveAccessKey:    getEnv("TENANTGUARD_AUDIT_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey:    getEnv("TENANTGUARD_AUDIT_ARCHIVE_SECRET_KEY", ""),
		ArchiveUsePathStyle: getEnvBool("TENANTGUARD_AUDIT_ARCHIVE_PATH_STYLE", false),
		MonitorSchedule:     getEnv("TENANTGUARD_SECURITY_MONITOR_SCHEDULE", "*/5 * * * *"),
		MonitorWindow:       getEnvDuration("TENANTGUARD_SECURITY_MONITOR_WINDOW", time.Hour),
		MonitorThreshold:    getEnvInt64("TENANTGUARD_SECURITY_MONITOR_THRESHOLD", 10),
		AlertWebhookURLs:    getEnvList("TENANTGUARD_ALERT_WEBHOOK_URLS"),
		AlertWebhookSecret:  getEnv("TENANTGUARD_ALERT_WEBHOOK_SECRET", ""),
		AlertWebhookFormat:  getEnv("TENANTGUARD_ALERT_WEBHOOK_FORMAT", "json"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		OIDCIssuerURL:    getEnv("TENANTGUARD_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("TENANTGUARD_OIDC_CLIENT_ID", ""),
		OIDCClientSecret: getEnv("TENANTGUARD_OIDC_CLIENT_SECRET", ""),
		OIDCRedirectURL:  getEnv("TENANTGUARD_OIDC_REDIRECT_URL", ""),
		OIDCPostLoginURL: getEnv("TENANTGUARD_OIDC_POST_LOGIN_URL", "/"),
		CacheSize:        getEnvInt("TENANTGUARD_AUTH_CACHE_SIZE", 10000),
		CacheTTL:         getEnvDuration("TENANTGUARD_AUTH_CACHE_TTL", 30*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TENANTGUARD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGUARD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGUARD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGUARD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGUARD_OTEL_SERVICE_NAME", "tenantguard"),
		OTelServiceVersion: getEnv("TENANTGUARD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGUARD_OTEL_INSECURE", true),
	}
}

// ArchiveEnabled reports whether audit archives go to S3
func (c *Config) ArchiveEnabled() bool {
	return c.Audit.ArchiveBucket != ""
}

// AlertsEnabled reports whether monitor alerts are posted to webhooks
func (c *Config) AlertsEnabled() bool {
	return len(c.Audit.AlertWebhookURLs) > 0
}

// OIDCEnabled reports whether OIDC ID tokens are accepted
func (c *Config) OIDCEnabled() bool {
	return c.Auth.OIDCIssuerURL != ""
}

// SSOEnabled reports whether the browser login flow is served
func (c *Config) SSOEnabled() bool {
	return c.OIDCEnabled() && c.Auth.OIDCClientSecret != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxConns <= 0 || c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("invalid postgres pool size: min %d, max %d", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Redis.URL != "" && (c.Redis.ThrottleMax <= 0 || c.Redis.ThrottleWindow <= 0) {
		return fmt.Errorf("auth throttle limit and window must be positive")
	}

	if c.Sessions.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.Sessions.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	if c.Audit.WriteTimeout <= 0 {
		return fmt.Errorf("audit write timeout must be positive")
	}
	if c.Audit.MonitorWindow <= 0 {
		return fmt.Errorf("security monitor window must be positive")
	}
	if _, err := cron.ParseStandard(c.Audit.MonitorSchedule); err != nil {
		return fmt.Errorf("invalid security monitor schedule %q: %w", c.Audit.MonitorSchedule, err)
	}
	if (c.Audit.ArchiveAccessKey == "") != (c.Audit.ArchiveSecretKey == "") {
		return fmt.Errorf("archive access key and secret key must be set together")
	}
	for _, raw := range c.Audit.AlertWebhookURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid alert webhook URL %q", raw)
		}
	}
	if f := c.Audit.AlertWebhookFormat; f != "json" && f != "slack" {
		return fmt.Errorf("alert webhook format must be json or slack, got %q", f)
	}

	if (c.Auth.OIDCIssuerURL == "") != (c.Auth.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer URL and client ID must be set together")
	}
	if c.Auth.OIDCClientSecret != "" {
		if !c.OIDCEnabled() {
			return fmt.Errorf("OIDC client secret requires an issuer URL and client ID")
		}
		u, err := url.Parse(c.Auth.OIDCRedirectURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid OIDC redirect URL %q", c.Auth.OIDCRedirectURL)
		}
		if !strings.HasPrefix(c.Auth.OIDCPostLoginURL, "/") || strings.HasPrefix(c.Auth.OIDCPostLoginURL, "//") {
			return fmt.Errorf("OIDC post-login URL must be a local path, got %q", c.Auth.OIDCPostLoginURL)
		}
	}
	if c.Auth.CacheSize <= 0 {
		return fmt.Errorf("auth cache size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
