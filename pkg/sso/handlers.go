package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
	"github.com/platinummonkey/tenantguard/pkg/audit"
	"github.com/platinummonkey/tenantguard/pkg/auth"
	"github.com/platinummonkey/tenantguard/pkg/httputil"
	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/sessions"
)

const (
	stateCookieName = "tg_oidc_state"
	stateCookiePath = "/auth/oidc"
	stateMaxAge     = 600
)

// Recorder writes audit entries. *audit.Service satisfies it.
type Recorder interface {
	Record(ctx context.Context, e *audit.Entry)
	RecordSecurityEvent(ctx context.Context, e *audit.Entry)
}

// HandlerConfig holds cookie and redirect settings
type HandlerConfig struct {
	SessionCookie string
	SecureCookies bool
	// PostLoginURL is where the browser lands after a successful login
	PostLoginURL string
}

// Handlers serves the browser login flow. A successful callback creates a
// session exactly like POST /api/v1/sessions does.
type Handlers struct {
	provider   Provider
	identities auth.IdentityResolver
	sessions   *sessions.Manager
	recorder   Recorder
	config     HandlerConfig
}

// NewHandlers creates the login handlers
func NewHandlers(provider Provider, identities auth.IdentityResolver, manager *sessions.Manager, recorder Recorder, config HandlerConfig) *Handlers {
	if config.PostLoginURL == "" {
		config.PostLoginURL = "/"
	}
	return &Handlers{
		provider:   provider,
		identities: identities,
		sessions:   manager,
		recorder:   recorder,
		config:     config,
	}
}

// RegisterRoutes registers the unauthenticated login routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc(stateCookiePath+"/login", h.login).Methods("GET")
	router.HandleFunc(stateCookiePath+"/callback", h.callback).Methods("GET")
}

// login handles GET /auth/oidc/login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	state, err := randomValue()
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	nonce, err := randomValue()
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state + "." + nonce,
		Path:     stateCookiePath,
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

// callback handles GET /auth/oidc/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	h.clearState(w)

	if idpErr := r.URL.Query().Get("error"); idpErr != "" {
		logger.WithField("idp_error", idpErr).Warn("Identity provider rejected login")
		httputil.WriteAppError(w, r, fmt.Errorf("%w: login was not completed", apperr.ErrUnauthenticated))
		return
	}

	nonce, ok := h.checkState(r)
	if !ok {
		h.recorder.RecordSecurityEvent(ctx, &audit.Entry{
			UserID:    "anonymous",
			Action:    audit.EventSSOStateMismatch,
			Resource:  "authentication",
			Status:    audit.StatusBlocked,
			RiskLevel: audit.RiskMedium,
		})
		httputil.WriteAppError(w, r, fmt.Errorf("%w: invalid login state", apperr.ErrUnauthenticated))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteAppError(w, r, apperr.InvalidQuery("code", "is required"))
		return
	}

	identity, err := h.provider.Exchange(ctx, code, nonce)
	if err != nil {
		logger.WithError(err).Warn("OIDC code exchange failed")
		httputil.WriteAppError(w, r, fmt.Errorf("%w: login could not be verified", apperr.ErrUnauthenticated))
		return
	}

	userID, err := h.identities.UserIDForSubject(ctx, identity.Issuer, identity.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		h.recorder.RecordSecurityEvent(ctx, &audit.Entry{
			UserID:    "anonymous",
			Action:    audit.EventSSOUnknownSubject,
			Resource:  "authentication",
			Status:    audit.StatusBlocked,
			RiskLevel: audit.RiskMedium,
			Metadata: map[string]interface{}{
				"issuer":  identity.Issuer,
				"subject": identity.Subject,
			},
		})
		httputil.WriteAppError(w, r, fmt.Errorf("%w: no local user for this identity", apperr.ErrUnauthenticated))
		return
	}
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	session, err := h.sessions.Create(ctx, userID, httputil.ClientIP(r), r.UserAgent())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	h.recorder.Record(ctx, &audit.Entry{
		UserID:     userID,
		Action:     audit.ActionSSOLogin,
		Resource:   "session",
		ResourceID: session.ID,
		Status:     audit.StatusSuccess,
		RiskLevel:  audit.RiskLow,
		Metadata:   map[string]interface{}{"issuer": identity.Issuer},
	})

	http.SetCookie(w, h.sessions.Cookie(h.config.SessionCookie, session, h.config.SecureCookies))
	http.Redirect(w, r, h.config.PostLoginURL, http.StatusSeeOther)
}

// checkState compares the state query parameter with the cookie set by
// login and returns the nonce stored next to it.
func (h *Handlers) checkState(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return "", false
	}
	state, nonce, ok := strings.Cut(cookie.Value, ".")
	if !ok || state == "" || nonce == "" {
		return "", false
	}
	got := r.URL.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(got)) != 1 {
		return "", false
	}
	return nonce, true
}

func (h *Handlers) clearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func randomValue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate login state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
