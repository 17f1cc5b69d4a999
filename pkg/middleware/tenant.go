package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

const (
	// SessionCookieName carries the session id for browser clients
	SessionCookieName = "tg_session"
	// OrganizationHeader selects the organization to act in
	OrganizationHeader = "X-Organization-ID"
	// OrganizationQueryParam is the query fallback for OrganizationHeader
	OrganizationQueryParam = "org_id"
)

// TenantResolver builds a TenantContext from a credential. *auth.Resolver
// satisfies it.
type TenantResolver interface {
	Resolve(ctx context.Context, cred auth.Credential, organizationID string) (*auth.TenantContext, error)
}

// TenantMiddleware authenticates every request and attaches the resolved
// TenantContext. Handlers behind it never see a request without one.
type TenantMiddleware struct {
	resolver   TenantResolver
	throttle   *AuthThrottle
	cookieName string
}

// NewTenantMiddleware creates the middleware. throttle may be nil.
func NewTenantMiddleware(resolver TenantResolver, throttle *AuthThrottle) *TenantMiddleware {
	return &TenantMiddleware{resolver: resolver, throttle: throttle, cookieName: SessionCookieName}
}

// WithCookieName overrides the session cookie name
func (m *TenantMiddleware) WithCookieName(name string) *TenantMiddleware {
	if name != "" {
		m.cookieName = name
	}
	return m
}

// CredentialFromRequest extracts a bearer token, falling back to the
// session cookie.
func CredentialFromRequest(r *http.Request) (auth.Credential, error) {
	return credentialFromRequest(r, SessionCookieName)
}

func credentialFromRequest(r *http.Request, cookieName string) (auth.Credential, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return auth.Credential{}, fmt.Errorf("%w: invalid authorization header format", apperr.ErrUnauthenticated)
		}
		return auth.Credential{Kind: auth.CredentialBearer, Value: strings.TrimSpace(parts[1])}, nil
	}
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return auth.Credential{Kind: auth.CredentialSession, Value: cookie.Value}, nil
	}
	return auth.Credential{}, fmt.Errorf("%w: missing credentials", apperr.ErrUnauthenticated)
}

// OrganizationFromRequest returns the requested organization id, or "" for
// the caller's default organization.
func OrganizationFromRequest(r *http.Request) string {
	if org := strings.TrimSpace(r.Header.Get(OrganizationHeader)); org != "" {
		return org
	}
	return strings.TrimSpace(r.URL.Query().Get(OrganizationQueryParam))
}

// Handler wraps next with authentication and tenant resolution
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		client := httputil.ClientIP(r)

		if m.throttle != nil && m.throttle.Blocked(ctx, client) {
			m.tooManyFailures(w)
			return
		}

		cred, err := credentialFromRequest(r, m.cookieName)
		if err == nil {
			var tc *auth.TenantContext
			tc, err = m.resolver.Resolve(ctx, cred, OrganizationFromRequest(r))
			if err == nil {
				ctx = contextkeys.WithUserID(auth.WithTenant(ctx, tc), tc.UserID())
				if tc.SessionID() != "" {
					ctx = contextkeys.WithSessionID(ctx, tc.SessionID())
				}
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		if errors.Is(err, apperr.ErrUnauthenticated) && m.throttle != nil {
			if m.throttle.RecordFailure(ctx, client) {
				m.tooManyFailures(w)
				return
			}
		}
		if !errors.Is(err, apperr.ErrUnauthenticated) && !errors.Is(err, apperr.ErrNoMembership) {
			observability.FromContext(ctx).WithError(err).Error("tenant resolution failed")
		}
		httputil.WriteAppError(w, r, err)
	})
}

func (m *TenantMiddleware) tooManyFailures(w http.ResponseWriter) {
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", m.throttle.RetryAfter().Seconds()))
	httputil.WriteTooManyRequests(w, "too many failed authentication attempts")
}
