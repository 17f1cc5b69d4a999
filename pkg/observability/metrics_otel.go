package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds OpenTelemetry latency instruments for the hot paths
type OTelMetrics struct {
	resolveDuration    metric.Float64Histogram
	auditWriteDuration metric.Float64Histogram
	storeQueryDuration metric.Float64Histogram
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/tenantguard")

	m := &OTelMetrics{}
	var err error

	m.resolveDuration, err = meter.Float64Histogram(
		"tenantguard.context.resolve.duration",
		metric.WithDescription("Time to resolve a tenant context"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolve_duration histogram: %w", err)
	}

	m.auditWriteDuration, err = meter.Float64Histogram(
		"tenantguard.audit.write.duration",
		metric.WithDescription("Time to persist an audit entry"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit_write_duration histogram: %w", err)
	}

	m.storeQueryDuration, err = meter.Float64Histogram(
		"tenantguard.store.query.duration",
		metric.WithDescription("Backing store query duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store_query_duration histogram: %w", err)
	}

	return m, nil
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", "error")
	}
	return attribute.String("outcome", "ok")
}

// RecordResolve records how long a tenant context resolution took
func (m *OTelMetrics) RecordResolve(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.resolveDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(outcome(err)))
}

// RecordAuditWrite records how long an audit write took
func (m *OTelMetrics) RecordAuditWrite(ctx context.Context, kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.auditWriteDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("audit.kind", kind),
		outcome(err),
	))
}

// RecordStoreQuery records a backing store query
func (m *OTelMetrics) RecordStoreQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeQueryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("db.operation", operation),
		outcome(err),
	))
}
