package orgs

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// Handlers provides HTTP handlers for organizations and members
type Handlers struct {
	service *Service
}

// NewHandlers creates organization handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers organization routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{org_id}", h.getOrganization).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/members", h.addMember).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/members/{user_id}", h.updateMemberRole).Methods("PATCH")
	router.HandleFunc("/orgs/{org_id}/members/{user_id}", h.removeMember).Methods("DELETE")
	router.HandleFunc("/orgs/{org_id}/transfer-ownership", h.transferOwnership).Methods("POST")
}

func tenant(w http.ResponseWriter, r *http.Request) (*auth.TenantContext, bool) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
	}
	return tc, ok
}

func (h *Handlers) getOrganization(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant(w, r)
	if !ok {
		return
	}
	org, err := h.service.GetOrganization(r.Context(), tc, httputil.PathString(r, "org_id"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant(w, r)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), tc, httputil.PathString(r, "org_id"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant(w, r)
	if !ok {
		return
	}
	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	m, err := h.service.AddMember(r.Context(), tc, httputil.PathString(r, "org_id"), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, m)
}

func (h *Handlers) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant(w, r)
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := catalog.ParseRole(req.Role)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.InvalidInput("role", err.Error()))
		return
	}

	m, err := h.service.UpdateMemberRole(r.Context(), tc,
		httputil.PathString(r, "org_id"), httputil.PathString(r, "user_id"), role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant(w, r)
	if !ok {
		return
	}
	err := h.service.RemoveMember(r.Context(), tc, httputil.PathString(r, "org_id"), httputil.PathString(r, "user_id"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) transferOwnership(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenant(w, r)
	if !ok {
		return
	}
	var req TransferOwnershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.TransferOwnership(r.Context(), tc, httputil.PathString(r, "org_id"), req.NewOwnerID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
