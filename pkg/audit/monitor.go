package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// MonitorConfig configures the security event monitor
type MonitorConfig struct {
	// Schedule is a standard five-field cron expression
	Schedule string
	// Window is how far back each check counts events
	Window time.Duration
	// AlertThreshold is the high plus critical count that triggers a warning
	AlertThreshold int64
}

// DefaultMonitorConfig checks every five minutes over the last hour
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Schedule:       "*/5 * * * *",
		Window:         time.Hour,
		AlertThreshold: 10,
	}
}

// ThresholdAlert describes one check whose high-risk volume crossed the
// configured threshold.
type ThresholdAlert struct {
	High       int64         `json:"high"`
	Critical   int64         `json:"critical"`
	Window     time.Duration `json:"window"`
	Threshold  int64         `json:"threshold"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Alerter forwards threshold alerts to operators
type Alerter interface {
	Alert(ctx context.Context, alert ThresholdAlert) error
}

// Monitor periodically counts recent security events by risk level,
// publishes them as gauges and warns when the high-risk volume crosses
// the threshold.
type Monitor struct {
	store   Store
	metrics *observability.Metrics
	logger  *observability.Logger
	alerter Alerter
	config  MonitorConfig
	cron    *cron.Cron
	now     func() time.Time
}

// NewMonitor creates a monitor. Call Start to schedule it.
func NewMonitor(store Store, metrics *observability.Metrics, logger *observability.Logger, config MonitorConfig) (*Monitor, error) {
	if config.Window <= 0 {
		return nil, fmt.Errorf("monitor window must be positive")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := &Monitor{
		store:   store,
		metrics: metrics,
		logger:  logger,
		config:  config,
		cron:    cron.New(),
		now:     time.Now,
	}
	if _, err := m.cron.AddFunc(config.Schedule, func() {
		if _, err := m.Check(context.Background()); err != nil {
			m.logger.WithError(err).Error("Security event check failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule security event check: %w", err)
	}
	return m, nil
}

// WithAlerter also forwards threshold alerts to alerter
func (m *Monitor) WithAlerter(alerter Alerter) *Monitor {
	m.alerter = alerter
	return m
}

// Check runs one pass and returns the counts it observed
func (m *Monitor) Check(ctx context.Context) (map[RiskLevel]int64, error) {
	since := m.now().Add(-m.config.Window)
	counts, err := m.store.CountSecurityEvents(ctx, since)
	if err != nil {
		return nil, err
	}

	for _, level := range RiskLevels {
		m.metrics.SetRecentSecurityEvents(string(level), counts[level])
	}

	severe := counts[RiskHigh] + counts[RiskCritical]
	if m.config.AlertThreshold <= 0 || severe < m.config.AlertThreshold {
		return counts, nil
	}

	m.logger.WithFields(map[string]interface{}{
		"high":      counts[RiskHigh],
		"critical":  counts[RiskCritical],
		"window":    m.config.Window.String(),
		"threshold": m.config.AlertThreshold,
	}).Warn("High-risk security event volume above threshold")

	if m.alerter != nil {
		alert := ThresholdAlert{
			High:       counts[RiskHigh],
			Critical:   counts[RiskCritical],
			Window:     m.config.Window,
			Threshold:  m.config.AlertThreshold,
			ObservedAt: m.now().UTC(),
		}
		// Alert delivery problems never fail the check itself.
		if err := m.alerter.Alert(ctx, alert); err != nil {
			m.logger.WithError(err).Error("Failed to forward security alert")
		}
	}
	return counts, nil
}

// Start begins the schedule
func (m *Monitor) Start() {
	m.cron.Start()
	m.logger.WithField("schedule", m.config.Schedule).Info("Security event monitor started")
}

// Stop halts the schedule and waits for a running check to finish
func (m *Monitor) Stop(ctx context.Context) {
	select {
	case <-m.cron.Stop().Done():
	case <-ctx.Done():
	}
}
