package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// OrgPathVar is the mux path variable holding a target organization id
const OrgPathVar = "org_id"

// DenialRecorder persists denials. Cross-tenant and escalation denials must
// be recorded before the guard returns.
type DenialRecorder interface {
	RecordDenial(ctx context.Context, tc *auth.TenantContext, d Decision, resource, targetOrgID string)
}

// Guard runs engine checks for handlers and records every denial.
type Guard struct {
	engine   *Engine
	recorder DenialRecorder
}

// NewGuard creates a guard. recorder may be nil.
func NewGuard(engine *Engine, recorder DenialRecorder) *Guard {
	return &Guard{engine: engine, recorder: recorder}
}

// Engine returns the underlying engine
func (g *Guard) Engine() *Engine {
	return g.engine
}

// Authorize checks tc and returns the denial as an apperr error.
func (g *Guard) Authorize(ctx context.Context, tc *auth.TenantContext, resource, resourceOrgID string, required []catalog.Permission, opts ...CheckOption) error {
	d := g.engine.Check(tc, resourceOrgID, required, opts...)
	if d.Allowed {
		return nil
	}
	if g.recorder != nil && tc != nil {
		g.recorder.RecordDenial(ctx, tc, d, resource, resourceOrgID)
	}
	return d.Err()
}

// Require returns middleware enforcing perms. When the route has an
// {org_id} variable it is the resource organization.
func (g *Guard) Require(perms ...catalog.Permission) mux.MiddlewareFunc {
	return g.require(false, perms)
}

// RequireHidden is Require for routes that answer every denial with 404 so
// that resources in other tenants are indistinguishable from missing ones.
func (g *Guard) RequireHidden(perms ...catalog.Permission) mux.MiddlewareFunc {
	return g.require(true, perms)
}

func (g *Guard) require(hidden bool, perms []catalog.Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, ok := auth.FromContext(r.Context())
			if !ok {
				httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
				return
			}

			resource := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					resource = tpl
				}
			}

			err := g.Authorize(r.Context(), tc, resource, mux.Vars(r)[OrgPathVar], perms)
			if err != nil {
				if hidden {
					httputil.WriteNotFound(w)
					return
				}
				httputil.WriteAppError(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
