package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tenantguard/pkg/admin"
	"github.com/platinummonkey/tenantguard/pkg/api"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/config"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/orgs"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/sessions"
	"github.com/platinummonkey/tenantguard/pkg/sso"
	"github.com/platinummonkey/tenantguard/pkg/storage/postgres"
	"github.com/platinummonkey/tenantguard/pkg/webhooks"
	"github.com/platinummonkey/tenantguard/pkg/workspaces"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "Apply pending schema migrations before serving")
	migrateOnly := flag.Bool("migrate-only", false, "Apply pending schema migrations and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "tenantguard").
		WithField("version", version)

	if err := run(cfg, logger, *migrate || *migrateOnly, *migrateOnly); err != nil {
		logger.WithError(err).Error("tenantguard exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrate, migrateOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.PrimaryURL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if migrate {
		if err := postgres.RunMigrations(ctx, db.Primary(), logger); err != nil {
			db.Close()
			return err
		}
		logger.Info("Schema is up to date")
		if migrateOnly {
			return db.Close()
		}
	}
	db.StartHealthCheckRoutine(ctx, 30*time.Second)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	var otelMetrics *observability.OTelMetrics
	if providers != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	cat, err := loadCatalog(cfg.Catalog.ExtensionFile)
	if err != nil {
		return err
	}

	// Audit: the database is authoritative, the file sink is best effort.
	auditStore, err := audit.NewPostgresStore(db.Primary())
	if err != nil {
		return err
	}
	auditOpts := []audit.Option{
		audit.WithMetrics(metrics),
		audit.WithOTelMetrics(otelMetrics),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
	}
	var fileSink *audit.FileSink
	if cfg.Audit.FileSinkDir != "" {
		if fileSink, err = audit.NewFileSink(audit.FileSinkConfig{BasePath: cfg.Audit.FileSinkDir}); err != nil {
			return err
		}
		auditOpts = append(auditOpts, audit.WithSink(audit.NewMultiLogger(auditStore, metrics, fileSink)))
	}
	auditService := audit.NewService(auditStore, auditOpts...)

	var archiver *audit.Archiver
	if cfg.ArchiveEnabled() {
		archiver, err = audit.NewS3Archiver(ctx, audit.ArchiveConfig{
			Bucket:       cfg.Audit.ArchiveBucket,
			Region:       cfg.Audit.ArchiveRegion,
			Endpoint:     cfg.Audit.ArchiveEndpoint,
			AccessKey:    cfg.Audit.ArchiveAccessKey,
			SecretKey:    cfg.Audit.ArchiveSecretKey,
			UsePathStyle: cfg.Audit.ArchiveUsePathStyle,
		}, auditService)
		if err != nil {
			return err
		}
	}

	// The monitor only counts, so it reads from a replica when one exists.
	monitorStore, err := audit.NewPostgresStore(db.Replica())
	if err != nil {
		return err
	}
	monitor, err := audit.NewMonitor(monitorStore, metrics, logger, audit.MonitorConfig{
		Schedule:       cfg.Audit.MonitorSchedule,
		Window:         cfg.Audit.MonitorWindow,
		AlertThreshold: cfg.Audit.MonitorThreshold,
	})
	if err != nil {
		return err
	}
	var notifier *webhooks.Notifier
	if cfg.AlertsEnabled() {
		alertConfig := webhooks.DefaultConfig(cfg.Audit.AlertWebhookURLs...)
		alertConfig.Secret = cfg.Audit.AlertWebhookSecret
		alertConfig.Format = webhooks.Format(cfg.Audit.AlertWebhookFormat)
		if notifier, err = webhooks.NewNotifier(ctx, alertConfig, logger, metrics); err != nil {
			return err
		}
		monitor.WithAlerter(notifier)
	}
	monitor.Start()

	var redisClient *redis.Client
	var throttle *middleware.AuthThrottle
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		throttle = middleware.NewAuthThrottle(redisClient, middleware.ThrottleConfig{
			MaxFailures: cfg.Redis.ThrottleMax,
			Window:      cfg.Redis.ThrottleWindow,
		}, auditService)
	} else {
		logger.Warn("Redis is not configured; authentication failures are not throttled")
	}

	// Authorization core. The membership cache is only safe when every
	// instance sees every invalidation, so it needs Redis.
	orgStore := orgs.NewPostgresStore(db.Primary())
	adminStore := admin.NewPostgresStore(db.Primary())
	var (
		memberships auth.MembershipLoader = orgStore
		admins      auth.AdminLoader      = adminStore
		invalidator auth.Invalidator
	)
	if redisClient != nil {
		loader := auth.NewCachingLoader(orgStore, adminStore, cfg.Auth.CacheSize, cfg.Auth.CacheTTL, metrics).
			WithVersions(auth.NewRedisVersions(redisClient))
		memberships, admins, invalidator = loader, loader, loader
	} else {
		logger.Warn("Redis is not configured; membership and admin lookups are not cached")
	}

	engine := rbac.NewEngine(metrics)
	guard := rbac.NewGuard(engine, auditService)
	validator := admin.NewValidator(adminStore, engine, auditService)

	sessionManager := sessions.NewManager(sessions.NewPostgresStore(db.Primary()), auditService,
		sessions.WithTimeout(cfg.Sessions.Timeout),
		sessions.WithMetrics(metrics),
	)

	tokenStore := auth.NewPostgresTokenStore(db.Primary())
	authenticators := []auth.Authenticator{
		auth.NewTokenAuthenticator(tokenStore),
		auth.NewSessionAuthenticator(sessionManager),
	}
	if cfg.OIDCEnabled() {
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, tokenStore)
		if err != nil {
			return err
		}
		authenticators = append(authenticators, oidcAuth)
	}
	resolver := auth.NewResolver(auth.NewChainAuthenticator(authenticators...), memberships, admins, cat,
		auth.WithMetrics(metrics),
		auth.WithOTelMetrics(otelMetrics),
	)

	var public []api.RouteRegistrar
	if cfg.SSOEnabled() {
		provider, err := sso.NewOIDCProvider(ctx, sso.Config{
			IssuerURL:    cfg.Auth.OIDCIssuerURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			RedirectURL:  cfg.Auth.OIDCRedirectURL,
		})
		if err != nil {
			return err
		}
		public = append(public, sso.NewHandlers(provider, tokenStore, sessionManager, auditService, sso.HandlerConfig{
			SessionCookie: cfg.Sessions.CookieName,
			SecureCookies: cfg.Sessions.SecureCookie,
			PostLoginURL:  cfg.Auth.OIDCPostLoginURL,
		}))
	}

	trustedProxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(api.Options{
		Logger:  logger,
		Metrics: metrics,
		Tenant:  middleware.NewTenantMiddleware(resolver, throttle).WithCookieName(cfg.Sessions.CookieName),
		Handlers: []api.RouteRegistrar{
			api.NewCredentialHandlers(tokenStore, sessionManager, auditService, cfg.Sessions.CookieName, cfg.Sessions.SecureCookie),
			sessions.NewHandlers(sessionManager),
			audit.NewHandlers(auditService, guard, archiver),
			orgs.NewHandlers(orgs.NewService(orgStore, guard, validator, auditService, cat, invalidator)),
			admin.NewHandlers(admin.NewService(adminStore, validator, guard, auditService, cat, invalidator)),
			workspaces.NewHandlers(workspaces.NewService(workspaces.NewPostgresStore(db.Primary()), auditService), guard),
		},
		Public:         public,
		Tracing:        providers != nil,
		TrustedProxies: trustedProxies,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db.Primary(), redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.Register("security-monitor", func(ctx context.Context) error {
		monitor.Stop(ctx)
		return nil
	})
	if notifier != nil {
		shutdown.Register("alert-webhooks", notifier.Close)
	}
	if fileSink != nil {
		shutdown.Register("audit-file-sink", func(context.Context) error { return fileSink.Close() })
	}
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("postgres", func(context.Context) error {
		cancel()
		return db.Close()
	})
	if providers != nil {
		shutdown.Register("opentelemetry", providers.Shutdown)
	}

	serve(logger, "api", httpServer)
	serve(logger, "health", healthServer)

	return shutdown.WaitForShutdown()
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	ext, err := catalog.LoadExtension(path)
	if err != nil {
		return nil, err
	}
	return catalog.New(ext)
}

func serve(logger *observability.Logger, name string, server *http.Server) {
	go func() {
		defer observability.RecoverPanic(logger, name+" server")
		logger.WithField("server", name).WithField("addr", server.Addr).Info("Listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).WithField("server", name).Error("Server stopped unexpectedly")
		}
	}()
}
