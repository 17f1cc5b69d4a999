package workspaces

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Handlers provides HTTP handlers for workspaces
type Handlers struct {
	service *Service
	guard   *rbac.Guard
}

// NewHandlers creates workspace handlers
func NewHandlers(service *Service, guard *rbac.Guard) *Handlers {
	return &Handlers{service: service, guard: guard}
}

// RegisterRoutes registers workspace routes. Fetches by id answer every
// denial with 404.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/workspaces",
		h.guard.Require(catalog.PermWorkspacesRead)(http.HandlerFunc(h.list))).Methods("GET")
	router.Handle("/workspaces",
		h.guard.Require(catalog.PermWorkspacesCreate)(http.HandlerFunc(h.create))).Methods("POST")
	router.Handle("/orgs/{org_id}/workspaces/{id}",
		h.guard.RequireHidden(catalog.PermWorkspacesRead)(http.HandlerFunc(h.get))).Methods("GET")
	router.Handle("/orgs/{org_id}/workspaces/{id}",
		h.guard.RequireHidden(catalog.PermWorkspacesDelete)(http.HandlerFunc(h.delete))).Methods("DELETE")
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	items, err := h.service.List(r.Context(), tc)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if items == nil {
		items = []*Workspace{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"workspaces": items})
}

type createRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	var req createRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ws, err := h.service.Create(r.Context(), tc, req.Name)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	ws, err := h.service.Get(r.Context(), tc, httputil.PathString(r, "id"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ws)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())
	if err := h.service.Delete(r.Context(), tc, httputil.PathString(r, "id")); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
