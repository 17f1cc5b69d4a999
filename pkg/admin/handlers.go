package admin

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// Handlers exposes admin record management
type Handlers struct {
	service *Service
}

// NewHandlers creates admin handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers admin routes. Authorization happens in the
// service so that flag attempts are recorded there.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/admin/system-admins", h.grantSystem).Methods("POST")
	router.HandleFunc("/orgs/{org_id}/admins", h.grantOrg).Methods("POST")
	router.HandleFunc("/admin/records/{id}", h.revoke).Methods("DELETE")
}

type grantBody struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions,omitempty"`
}

func (h *Handlers) grantSystem(w http.ResponseWriter, r *http.Request) {
	h.grant(w, r, nil)
}

func (h *Handlers) grantOrg(w http.ResponseWriter, r *http.Request) {
	orgID := httputil.PathString(r, "org_id")
	h.grant(w, r, &orgID)
}

func (h *Handlers) grant(w http.ResponseWriter, r *http.Request, orgID *string) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	var body grantBody
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	rec, err := h.service.GrantAdmin(r.Context(), tc, GrantRequest{
		UserID:         body.UserID,
		OrganizationID: orgID,
		Permissions:    catalog.ParsePermissions(body.Permissions),
	})
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, rec)
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	if err := h.service.RevokeAdmin(r.Context(), tc, httputil.PathString(r, "id")); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
