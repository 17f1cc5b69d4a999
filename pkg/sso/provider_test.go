package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                                server.URL,
			"authorization_endpoint":                server.URL + "/authorize",
			"token_endpoint":                        server.URL + "/token",
			"jwks_uri":                              server.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewOIDCProvider_AuthCodeURL(t *testing.T) {
	server := discoveryServer(t)

	provider, err := NewOIDCProvider(context.Background(), Config{
		IssuerURL:    server.URL,
		ClientID:     "tenantguard",
		ClientSecret: "s3cret",
		RedirectURL:  "https://tg.example.com/auth/oidc/callback",
	})
	require.NoError(t, err)

	u, err := url.Parse(provider.AuthCodeURL("state-1", "nonce-1"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, "tenantguard", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email", q.Get("scope"))
}

func TestNewOIDCProvider_Errors(t *testing.T) {
	_, err := NewOIDCProvider(context.Background(), Config{IssuerURL: "https://idp.example.com"})
	assert.ErrorContains(t, err, "invalid OIDC config")

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	_, err = NewOIDCProvider(context.Background(), Config{
		IssuerURL:    server.URL,
		ClientID:     "tenantguard",
		ClientSecret: "s3cret",
		RedirectURL:  "https://tg.example.com/auth/oidc/callback",
	})
	assert.ErrorContains(t, err, "failed to discover OIDC provider")
}
