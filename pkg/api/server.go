package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/middleware"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// PathPrefix is the mount point of every authenticated route
const PathPrefix = "/api/v1"

// maxRequestBytes bounds JSON request bodies
const maxRequestBytes = 1 << 20

// RouteRegistrar is implemented by every package's Handlers type
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Options configures the API server
type Options struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	// Tenant authenticates every route under PathPrefix.
	Tenant *middleware.TenantMiddleware
	// Handlers are mounted under PathPrefix in order.
	Handlers []RouteRegistrar
	// Public handlers are mounted on the root router without the tenant
	// middleware. They must do their own authentication.
	Public []RouteRegistrar
	// Tracing wraps the router with otelhttp when true.
	Tracing bool
	// TrustedProxies may set X-Forwarded-For. Every other peer is keyed on
	// its connection address for audit entries and the auth throttle.
	TrustedProxies httputil.TrustedProxies
}

// Server is the public HTTP surface
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer builds the router. Every route under PathPrefix sits behind
// the tenant middleware, so handlers can rely on auth.FromContext.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.ClientInfoMiddleware(opts.TrustedProxies),
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)
	if opts.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w)
	})

	for _, h := range opts.Public {
		if h != nil {
			h.RegisterRoutes(router)
		}
	}

	v1 := router.PathPrefix(PathPrefix).Subrouter()
	if opts.Tenant != nil {
		v1.Use(opts.Tenant.Handler)
	}
	for _, h := range opts.Handlers {
		if h != nil {
			h.RegisterRoutes(v1)
		}
	}

	s := &Server{router: router, handler: router}
	if opts.Tracing {
		s.handler = otelhttp.NewHandler(router, "tenantguard")
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for tests and extra mounts
func (s *Server) Router() *mux.Router {
	return s.router
}
