package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/async"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// EventType names an alert event
type EventType string

const (
	// EventSecurityThreshold fires when the monitor sees too many high-risk
	// security events in its window.
	EventSecurityThreshold EventType = "security.threshold_exceeded"
)

// Format selects the payload shape sent to an endpoint
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
)

// Header names set on every delivery
const (
	HeaderEvent     = "X-Tenantguard-Event"
	HeaderEventID   = "X-Tenantguard-Event-ID"
	HeaderSignature = "X-Tenantguard-Signature"
)

// Event is the JSON body delivered to FormatJSON endpoints
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Config configures a Notifier
type Config struct {
	URLs   []string
	Secret string
	Format Format

	// Timeout bounds one HTTP attempt
	Timeout time.Duration
	Retry   RetryConfig

	// RateLimit is the number of deliveries per endpoint per RatePeriod
	RateLimit  int
	RatePeriod time.Duration

	Workers   int
	QueueSize int
}

// DefaultConfig returns delivery defaults for urls
func DefaultConfig(urls ...string) Config {
	return Config{
		URLs:       urls,
		Format:     FormatJSON,
		Timeout:    10 * time.Second,
		Retry:      DefaultRetryConfig(),
		RateLimit:  30,
		RatePeriod: time.Minute,
		Workers:    2,
		QueueSize:  64,
	}
}

// Notifier delivers alert events to every configured endpoint in the
// background. Deliveries are signed with HMAC-SHA256 when a secret is set
// and retried with exponential backoff.
type Notifier struct {
	config  Config
	client  *http.Client
	retry   *RetryPolicy
	limiter *RateLimiter
	pool    *async.WorkerPool
	logger  *observability.Logger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewNotifier validates config and starts the delivery workers
func NewNotifier(ctx context.Context, config Config, logger *observability.Logger, metrics *observability.Metrics) (*Notifier, error) {
	if len(config.URLs) == 0 {
		return nil, errors.New("at least one webhook URL is required")
	}
	if config.Format == "" {
		config.Format = FormatJSON
	}
	if config.Format != FormatJSON && config.Format != FormatSlack {
		return nil, fmt.Errorf("unsupported webhook format %q", config.Format)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	retry := NewRetryPolicy(config.Retry)
	// The pool deadline covers every attempt plus the waits between them.
	deadline := time.Duration(retry.config.MaxAttempts)*config.Timeout + retry.TotalDelay()

	return &Notifier{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		retry:   retry,
		limiter: NewRateLimiter(config.RateLimit, config.RatePeriod),
		pool:    async.NewWorkerPool(ctx, config.Workers, config.QueueSize, "alert delivery", deadline, logger),
		logger:  logger.WithField("component", "webhooks"),
		metrics: metrics,
		sleep:   sleepContext,
	}, nil
}

// Alert implements audit.Alerter
func (n *Notifier) Alert(ctx context.Context, alert audit.ThresholdAlert) error {
	return n.Notify(ctx, &Event{
		Type:      EventSecurityThreshold,
		Timestamp: alert.ObservedAt,
		Data: map[string]interface{}{
			"high":      alert.High,
			"critical":  alert.Critical,
			"threshold": alert.Threshold,
			"window":    alert.Window.String(),
		},
	})
}

// Notify queues event for every endpoint. It only fails when the event
// cannot be encoded; a full queue drops the delivery and is logged.
func (n *Notifier) Notify(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := n.encode(event)
	if err != nil {
		return err
	}

	for _, url := range n.config.URLs {
		url := url
		err := n.pool.TrySubmit(func(ctx context.Context) error {
			return n.deliver(ctx, url, event, payload)
		})
		if err != nil {
			n.metrics.RecordAlertDelivery("dropped")
			n.logger.WithError(err).WithFields(map[string]interface{}{
				"event_id": event.ID,
				"url":      url,
			}).Warn("Dropped alert delivery")
		}
	}
	return nil
}

// Close stops accepting events and waits for queued deliveries
func (n *Notifier) Close(ctx context.Context) error {
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return n.pool.Shutdown(timeout)
}

func (n *Notifier) encode(event *Event) ([]byte, error) {
	var body interface{} = event
	if n.config.Format == FormatSlack {
		body = FormatSlackMessage(event)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

func (n *Notifier) deliver(ctx context.Context, url string, event *Event, payload []byte) error {
	if !n.limiter.Allow(url) {
		n.metrics.RecordAlertDelivery("rate_limited")
		return fmt.Errorf("rate limit exceeded for %s", url)
	}

	log := n.logger.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"url":      url,
	})

	for attempt := 1; ; attempt++ {
		err := n.send(ctx, url, event, payload)
		if err == nil {
			n.metrics.RecordAlertDelivery("delivered")
			return nil
		}
		if !n.retry.ShouldRetry(attempt, err) {
			n.metrics.RecordAlertDelivery("failed")
			return fmt.Errorf("delivery failed after %d attempts: %w", attempt, err)
		}

		delay := n.retry.NextRetryDelay(attempt)
		log.WithError(err).WithField("attempt", attempt).WithField("retry_in", delay.String()).Warn("Alert delivery failed, retrying")
		if err := n.sleep(ctx, delay); err != nil {
			n.metrics.RecordAlertDelivery("failed")
			return err
		}
	}
}

func (n *Notifier) send(ctx context.Context, url string, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	if n.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.config.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
