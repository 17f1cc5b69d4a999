package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/sessions"
)

const maxTokenLifetimeDays = 365

// TokenWriter persists API tokens. *auth.PostgresTokenStore satisfies it.
type TokenWriter interface {
	CreateToken(ctx context.Context, token *auth.APIToken) error
	RevokeToken(ctx context.Context, userID, tokenID string) error
}

// AuditRecorder writes best-effort audit entries. *audit.Service satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, e *audit.Entry)
}

// CredentialHandlers issues API tokens and browser sessions to an already
// authenticated caller.
type CredentialHandlers struct {
	tokens       TokenWriter
	generator    *auth.TokenGenerator
	sessions     *sessions.Manager
	recorder     AuditRecorder
	cookieName   string
	secureCookie bool
	now          func() time.Time
}

// NewCredentialHandlers creates the handlers. tokens may be nil to disable
// token issuance.
func NewCredentialHandlers(tokens TokenWriter, manager *sessions.Manager, recorder AuditRecorder, cookieName string, secureCookie bool) *CredentialHandlers {
	return &CredentialHandlers{
		tokens:       tokens,
		generator:    auth.NewTokenGenerator(),
		sessions:     manager,
		recorder:     recorder,
		cookieName:   cookieName,
		secureCookie: secureCookie,
		now:          time.Now,
	}
}

// RegisterRoutes registers credential routes
func (h *CredentialHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.createSession).Methods("POST")
	if h.tokens != nil {
		router.HandleFunc("/tokens", h.createToken).Methods("POST")
		router.HandleFunc("/tokens/{id}", h.revokeToken).Methods("DELETE")
	}
}

type createTokenRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days,omitempty"`
}

type createTokenResponse struct {
	*auth.APIToken
	// Token is returned exactly once; only its hash is stored.
	Token string `json:"token"`
}

// createToken handles POST /tokens
func (h *CredentialHandlers) createToken(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	var req createTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		httputil.WriteAppError(w, r, apperr.InvalidInput("name", "is required"))
		return
	}
	if req.ExpiresInDays < 0 || req.ExpiresInDays > maxTokenLifetimeDays {
		httputil.WriteAppError(w, r, apperr.InvalidInput("expires_in_days", "must be between 0 and 365"))
		return
	}

	plaintext, hash, prefix, err := h.generator.GenerateToken()
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	token := &auth.APIToken{
		UserID:      tc.UserID(),
		TokenHash:   hash,
		TokenPrefix: prefix,
		Name:        req.Name,
	}
	if req.ExpiresInDays > 0 {
		expires := h.now().UTC().AddDate(0, 0, req.ExpiresInDays)
		token.ExpiresAt = &expires
	}
	if err := h.tokens.CreateToken(r.Context(), token); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recorder.Record(r.Context(), &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.ActionTokenCreated,
		Resource:       "api_token",
		ResourceID:     token.ID,
		Status:         audit.StatusSuccess,
		RiskLevel:      audit.RiskLow,
		Metadata:       map[string]interface{}{"token_prefix": prefix},
	})

	httputil.WriteCreated(w, createTokenResponse{APIToken: token, Token: plaintext})
}

// revokeToken handles DELETE /tokens/{id}
func (h *CredentialHandlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	id := httputil.PathString(r, "id")
	if err := h.tokens.RevokeToken(r.Context(), tc.UserID(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recorder.Record(r.Context(), &audit.Entry{
		OrganizationID: tc.OrganizationID(),
		UserID:         tc.UserID(),
		Action:         audit.ActionTokenRevoked,
		Resource:       "api_token",
		ResourceID:     id,
		Status:         audit.StatusSuccess,
		RiskLevel:      audit.RiskLow,
	})
	httputil.WriteNoContent(w)
}

// createSession handles POST /sessions. The caller authenticates with a
// bearer credential (typically an OIDC ID token) and receives a session
// cookie for browser use.
func (h *CredentialHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	tc, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteAppError(w, r, apperr.ErrUnauthenticated)
		return
	}

	s, err := h.sessions.Create(r.Context(), tc.UserID(), httputil.ClientIP(r), r.UserAgent())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessions.Cookie(h.cookieName, s, h.secureCookie))
	httputil.WriteCreated(w, s)
}
