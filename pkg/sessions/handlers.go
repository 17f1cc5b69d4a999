package sessions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
)

// Handlers serves the caller's own sessions. No permission beyond being
// authenticated is required; every operation is limited to the caller.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates session handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers session routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.list).Methods("GET")
	router.HandleFunc("/sessions/revoke-others", h.revokeOthers).Methods("POST")
	router.HandleFunc("/sessions/{id}", h.revoke).Methods("DELETE")
}

type revokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	views, err := h.manager.List(r.Context(), tc)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions": views})
}

func (h *Handlers) revoke(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	if err := h.manager.Revoke(r.Context(), tc, httputil.PathString(r, "id"), ReasonUserRequested); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) revokeOthers(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	var req revokeRequest
	if r.ContentLength > 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	count, err := h.manager.RevokeAllOthers(r.Context(), tc, req.Reason)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"revoked": count})
}
