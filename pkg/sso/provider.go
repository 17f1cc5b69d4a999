package sso

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Identity is the verified subject of a completed login
type Identity struct {
	Issuer  string
	Subject string
	Email   string
}

// Provider runs the authorization code flow against one identity provider
type Provider interface {
	// AuthCodeURL is where the browser is sent to log in. nonce is bound
	// into the ID token.
	AuthCodeURL(state, nonce string) string
	// Exchange redeems code and returns the verified identity. The ID
	// token must carry nonce.
	Exchange(ctx context.Context, code, nonce string) (*Identity, error)
}

// Config configures an OIDC provider
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Validate checks the fields the code flow needs
func (c Config) Validate() error {
	switch {
	case c.IssuerURL == "":
		return errors.New("issuer URL is required")
	case c.ClientID == "":
		return errors.New("client ID is required")
	case c.ClientSecret == "":
		return errors.New("client secret is required")
	case c.RedirectURL == "":
		return errors.New("redirect URL is required")
	}
	if len(c.Scopes) > 0 && !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		return errors.New("the openid scope is required")
	}
	return nil
}

// OIDCProvider implements Provider with OpenID Connect discovery
type OIDCProvider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer's endpoints and signing keys
func NewOIDCProvider(ctx context.Context, config Config) (*OIDCProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OIDC config: %w", err)
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{oidc.ScopeOpenID, "email"}
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &OIDCProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
	}, nil
}

// AuthCodeURL implements Provider
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth2Config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange implements Provider
func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce string) (*Identity, error) {
	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response has no id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("ID token nonce does not match")
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	return &Identity{Issuer: idToken.Issuer, Subject: idToken.Subject, Email: claims.Email}, nil
}
