package audit

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/catalog"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/rbac"
)

// Handlers provides HTTP handlers for the audit API
type Handlers struct {
	service  *Service
	guard    *rbac.Guard
	archiver *Archiver
}

// NewHandlers creates audit handlers. archiver may be nil, in which case
// archive requests are rejected.
func NewHandlers(service *Service, guard *rbac.Guard, archiver *Archiver) *Handlers {
	return &Handlers{
		service:  service,
		guard:    guard,
		archiver: archiver,
	}
}

// RegisterRoutes registers audit routes. The router must already resolve
// the tenant context.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/audit/logs",
		h.guard.Require(catalog.PermAuditRead)(http.HandlerFunc(h.listLogs))).Methods("GET")
	router.Handle("/audit/logs/{id}/compensate",
		h.guard.Require(catalog.PermAuditRead, catalog.PermAuditExport)(http.HandlerFunc(h.compensate))).Methods("POST")
	router.Handle("/audit/security-events",
		h.guard.Require(catalog.PermSecurityRead)(http.HandlerFunc(h.listSecurityEvents))).Methods("GET")
	router.Handle("/audit/export",
		h.guard.Require(catalog.PermAuditExport)(http.HandlerFunc(h.export))).Methods("GET")
	router.HandleFunc("/admin/audit/logs", h.listCrossTenant).Methods("GET")
}

// listLogs handles GET /audit/logs
func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	filter.OrganizationID = tc.OrganizationID()

	result, err := h.service.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// listSecurityEvents handles GET /audit/security-events
func (h *Handlers) listSecurityEvents(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	filter.OrganizationID = tc.OrganizationID()

	result, err := h.service.QuerySecurityEvents(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// listCrossTenant handles GET /admin/audit/logs. Authorization happens in
// QueryCrossTenant so that refused attempts are recorded there.
func (h *Handlers) listCrossTenant(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	filter.OrganizationID = httputil.ParseQueryString(r, "organization_id", "")

	result, err := h.service.QueryCrossTenant(r.Context(), tc, filter, r.URL.Query().Get("reason"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// export handles GET /audit/export. With archive=true the export is
// uploaded to object storage and the object key returned instead.
func (h *Handlers) export(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	filter.OrganizationID = tc.OrganizationID()

	if r.URL.Query().Get("archive") == "true" {
		if h.archiver == nil {
			httputil.WriteAppError(w, r, apperr.InvalidQuery("archive", "archiving is not configured"))
			return
		}
		key, err := h.archiver.Archive(r.Context(), tc.UserID(), filter)
		if err != nil {
			httputil.WriteAppError(w, r, err)
			return
		}
		httputil.WriteCreated(w, map[string]string{"key": key})
		return
	}

	format, err := ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	data, err := h.service.Export(r.Context(), tc.UserID(), filter, format)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	ct, ext := contentType(format)
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=audit-logs.%s", ext))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type compensateRequest struct {
	Reason     string                 `json:"reason"`
	Correction map[string]interface{} `json:"correction,omitempty"`
}

// compensate handles POST /audit/logs/{id}/compensate
func (h *Handlers) compensate(w http.ResponseWriter, r *http.Request) {
	tc, _ := auth.FromContext(r.Context())

	var req compensateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	entry, err := h.service.Compensate(r.Context(), tc, httputil.PathString(r, "id"), req.Reason, req.Correction)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, entry)
}

// parseFilter reads the list query parameters. OrganizationID is left for
// the caller to set.
func parseFilter(r *http.Request) (Filter, error) {
	var filter Filter
	var err error

	if filter.Page, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		return filter, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", DefaultPageSize); err != nil {
		return filter, err
	}
	if filter.Start, err = httputil.ParseQueryDate(r, "start_date", false); err != nil {
		return filter, err
	}
	if filter.End, err = httputil.ParseQueryDate(r, "end_date", true); err != nil {
		return filter, err
	}

	query := r.URL.Query()
	filter.UserID = strings.TrimSpace(query.Get("user_id"))
	filter.Search = strings.TrimSpace(query.Get("search"))
	filter.Actions = splitList(query["action"])

	status := query.Get("status")
	if status == "" {
		status = query.Get("result")
	}
	filter.Status = Status(strings.ToLower(strings.TrimSpace(status)))

	for _, level := range splitList(query["risk_level"]) {
		filter.RiskLevels = append(filter.RiskLevels, RiskLevel(strings.ToLower(level)))
	}

	return filter, nil
}

// splitList accepts both repeated parameters and comma-separated values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
