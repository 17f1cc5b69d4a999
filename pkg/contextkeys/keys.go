// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between packages are keyed here so the
// producer and every consumer agree on one key.
//
//	ctx = contextkeys.WithTenant(ctx, tc)
//	tc, _ := ctx.Value(contextkeys.TenantKey).(*auth.TenantContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// TenantKey contains *auth.TenantContext
	// Set by: middleware.TenantMiddleware (pkg/middleware/tenant.go)
	// Required by: every protected endpoint and rbac.RequirePermission
	TenantKey Key = "tenant_context"

	// SessionIDKey contains the session id string when the caller
	// authenticated with a session cookie
	// Set by: auth.SessionAuthenticator via middleware.TenantMiddleware
	// Used by: session listing (isCurrent) and revoke-all-others
	SessionIDKey Key = "session_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit entries
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: middleware.TenantMiddleware after authentication
	// Used by: Logger
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"

	// ClientKey contains the caller's network metadata (IP address and user agent)
	// Set by: httputil.ClientInfoMiddleware
	// Used by: audit entries and session creation
	ClientKey Key = "client_info"
)

// ClientInfo is the request metadata copied into audit entries and sessions.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// WithTenant adds the resolved tenant context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithSessionID adds the current session id
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the current session id
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithClient adds the caller's network metadata
func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, ClientKey, info)
}

// GetClient retrieves the caller's network metadata
func GetClient(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(ClientKey).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}
