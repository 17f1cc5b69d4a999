package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

type received struct {
	mu       sync.Mutex
	bodies   [][]byte
	requests []*http.Request
}

func (r *received) handler(status func(n int) int) http.HandlerFunc {
	var calls atomic.Int32
	return func(w http.ResponseWriter, req *http.Request) {
		n := int(calls.Add(1))
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.requests = append(r.requests, req)
		r.mu.Unlock()
		w.WriteHeader(status(n))
	}
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func newTestNotifier(t *testing.T, config Config) (*Notifier, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	n, err := NewNotifier(context.Background(), config, nil, metrics)
	require.NoError(t, err)
	n.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return n, metrics
}

func testAlert() audit.ThresholdAlert {
	return audit.ThresholdAlert{
		High:       4,
		Critical:   2,
		Window:     time.Hour,
		Threshold:  5,
		ObservedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifier_DeliversSignedAlert(t *testing.T) {
	rec := &received{}
	server := httptest.NewServer(rec.handler(func(int) int { return http.StatusOK }))
	defer server.Close()

	config := DefaultConfig(server.URL)
	config.Secret = "s3cret"
	n, metrics := newTestNotifier(t, config)

	require.NoError(t, n.Alert(context.Background(), testAlert()))
	require.NoError(t, n.Close(context.Background()))

	require.Equal(t, 1, rec.count())
	body := rec.bodies[0]
	req := rec.requests[0]
	assert.Equal(t, string(EventSecurityThreshold), req.Header.Get(HeaderEvent))
	assert.NotEmpty(t, req.Header.Get(HeaderEventID))
	assert.True(t, VerifySignature(body, req.Header.Get(HeaderSignature), "s3cret"))
	assert.False(t, VerifySignature(body, req.Header.Get(HeaderSignature), "other"))

	var event Event
	require.NoError(t, json.Unmarshal(body, &event))
	assert.Equal(t, EventSecurityThreshold, event.Type)
	assert.Equal(t, float64(2), event.Data["critical"])
	assert.Equal(t, "1h0m0s", event.Data["window"])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AlertDeliveriesTotal.WithLabelValues("delivered")))
}

func TestNotifier_RetriesTransientFailures(t *testing.T) {
	rec := &received{}
	server := httptest.NewServer(rec.handler(func(n int) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusNoContent
	}))
	defer server.Close()

	n, metrics := newTestNotifier(t, DefaultConfig(server.URL))
	require.NoError(t, n.Alert(context.Background(), testAlert()))
	require.NoError(t, n.Close(context.Background()))

	assert.Equal(t, 3, rec.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AlertDeliveriesTotal.WithLabelValues("delivered")))
}

func TestNotifier_ClientErrorsAreNotRetried(t *testing.T) {
	rec := &received{}
	server := httptest.NewServer(rec.handler(func(int) int { return http.StatusBadRequest }))
	defer server.Close()

	n, metrics := newTestNotifier(t, DefaultConfig(server.URL))
	require.NoError(t, n.Alert(context.Background(), testAlert()))
	require.NoError(t, n.Close(context.Background()))

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AlertDeliveriesTotal.WithLabelValues("failed")))
}

func TestNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	rec := &received{}
	server := httptest.NewServer(rec.handler(func(int) int { return http.StatusBadGateway }))
	defer server.Close()

	config := DefaultConfig(server.URL)
	config.Retry.MaxAttempts = 3
	n, _ := newTestNotifier(t, config)
	require.NoError(t, n.Alert(context.Background(), testAlert()))
	require.NoError(t, n.Close(context.Background()))

	assert.Equal(t, 3, rec.count())
}

func TestNotifier_SlackFormat(t *testing.T) {
	rec := &received{}
	server := httptest.NewServer(rec.handler(func(int) int { return http.StatusOK }))
	defer server.Close()

	config := DefaultConfig(server.URL)
	config.Format = FormatSlack
	n, _ := newTestNotifier(t, config)
	require.NoError(t, n.Alert(context.Background(), testAlert()))
	require.NoError(t, n.Close(context.Background()))

	require.Equal(t, 1, rec.count())
	var msg SlackMessage
	require.NoError(t, json.Unmarshal(rec.bodies[0], &msg))
	assert.Contains(t, msg.Text, "above threshold")
	require.Len(t, msg.Attachments, 1)

	titles := map[string]string{}
	for _, f := range msg.Attachments[0].Fields {
		titles[f.Title] = f.Value
	}
	assert.Equal(t, "4", titles["high"])
	assert.Equal(t, "2024-05-01 12:00:00 UTC", titles["Observed"])
}

func TestNewNotifier_Validation(t *testing.T) {
	_, err := NewNotifier(context.Background(), Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewNotifier(context.Background(), Config{URLs: []string{"http://x"}, Format: "xml"}, nil, nil)
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})

	assert.Equal(t, time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, p.NextRetryDelay(2))
	assert.Equal(t, 8*time.Second, p.NextRetryDelay(4))
	assert.Equal(t, 30*time.Second, p.NextRetryDelay(10))
	assert.Equal(t, 15*time.Second, p.TotalDelay())

	assert.True(t, p.ShouldRetry(1, assert.AnError))
	assert.False(t, p.ShouldRetry(5, assert.AnError))
	assert.False(t, p.ShouldRetry(1, nil))
	assert.False(t, p.ShouldRetry(1, permanent(assert.AnError)))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	unlimited := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow("a"))
	}
}
