package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// ThrottleConfig bounds authentication failures per client
type ThrottleConfig struct {
	MaxFailures int
	Window      time.Duration
	Prefix      string
}

// DefaultThrottleConfig allows 10 failures per client IP per minute
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{MaxFailures: 10, Window: time.Minute, Prefix: "authfail"}
}

// SecurityRecorder writes security events. *audit.Service satisfies it.
type SecurityRecorder interface {
	RecordSecurityEvent(ctx context.Context, e *audit.Entry)
}

// AuthThrottle counts authentication failures per key in fixed Redis
// windows so the limit is shared across instances. Redis errors fail open.
type AuthThrottle struct {
	redis    *redis.Client
	config   ThrottleConfig
	recorder SecurityRecorder
	now      func() time.Time
}

// NewAuthThrottle creates a throttle. recorder may be nil.
func NewAuthThrottle(redisClient *redis.Client, config ThrottleConfig, recorder SecurityRecorder) *AuthThrottle {
	def := DefaultThrottleConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	return &AuthThrottle{redis: redisClient, config: config, recorder: recorder, now: time.Now}
}

func (t *AuthThrottle) key(client string) string {
	window := t.now().UnixNano() / int64(t.config.Window)
	return fmt.Sprintf("%s:%s:%d", t.config.Prefix, client, window)
}

// Blocked reports whether client has exhausted its failures for the
// current window.
func (t *AuthThrottle) Blocked(ctx context.Context, client string) bool {
	count, err := t.redis.Get(ctx, t.key(client)).Int()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("auth throttle lookup failed; allowing request")
		return false
	}
	return count > t.config.MaxFailures
}

// RecordFailure counts one failure for client and reports whether the
// limit is now exceeded. The security event is written once per window, on
// the failure that crosses the limit.
func (t *AuthThrottle) RecordFailure(ctx context.Context, client string) bool {
	key := t.key(client)

	pipe := t.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("auth throttle update failed")
		return false
	}

	count := incr.Val()
	exceeded := count > int64(t.config.MaxFailures)
	if count == int64(t.config.MaxFailures)+1 && t.recorder != nil {
		t.recorder.RecordSecurityEvent(ctx, &audit.Entry{
			UserID:    "anonymous",
			Action:    audit.EventAuthThrottled,
			Resource:  "authentication",
			Status:    audit.StatusBlocked,
			RiskLevel: audit.RiskMedium,
			IPAddress: client,
			Metadata: map[string]interface{}{
				"failures":       count,
				"window_seconds": int64(t.config.Window / time.Second),
			},
		})
	}
	return exceeded
}

// RetryAfter returns the time left in the current window
func (t *AuthThrottle) RetryAfter() time.Duration {
	elapsed := time.Duration(t.now().UnixNano() % int64(t.config.Window))
	return t.config.Window - elapsed
}

// HealthCheck verifies Redis connectivity
func (t *AuthThrottle) HealthCheck(ctx context.Context) error {
	return t.redis.Ping(ctx).Err()
}
