// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health probes and graceful shutdown for tenantguard.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Warn("audit write failed")
//
// FromContext adds the request id, user id and active trace/span ids.
//
// # Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision(false, "cross_tenant")
//	metrics.RecordAuditWriteFailure("security_event")
//
// Recorders are nil-safe.
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer().Start(ctx, "resolver.Resolve")
package observability
