package audit

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// MultiLogger writes every entry to a primary sink and then to any number of
// secondary sinks. Only the primary write decides success; secondary
// failures are logged and counted.
type MultiLogger struct {
	primary   Sink
	secondary []Sink
	metrics   *observability.Metrics
}

// NewMultiLogger creates a fan-out sink
func NewMultiLogger(primary Sink, metrics *observability.Metrics, secondary ...Sink) *MultiLogger {
	m := &MultiLogger{primary: primary, metrics: metrics}
	for _, s := range secondary {
		if s != nil {
			m.secondary = append(m.secondary, s)
		}
	}
	return m
}

// Write implements Sink
func (m *MultiLogger) Write(ctx context.Context, entry *Entry) error {
	if err := m.primary.Write(ctx, entry); err != nil {
		return err
	}

	for i, s := range m.secondary {
		if err := s.Write(ctx, entry); err != nil {
			m.metrics.RecordAuditWriteFailure("secondary")
			observability.FromContext(ctx).
				WithError(err).
				WithField("sink", fmt.Sprintf("secondary-%d", i)).
				WithField("action", entry.Action).
				Warn("audit secondary sink write failed")
		}
	}
	return nil
}
