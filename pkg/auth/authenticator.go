package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

// CredentialKind says where a credential came from.
type CredentialKind string

const (
	CredentialBearer  CredentialKind = "bearer"
	CredentialSession CredentialKind = "session"
)

// Credential is the raw material presented by a caller.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// Empty reports whether no credential was presented.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Value) == ""
}

// Principal is an authenticated user. SessionID is set only for session
// credentials.
type Principal struct {
	UserID    string
	SessionID string
	Method    string
}

// Authenticator turns a credential into a principal.
//
// Implementations return ErrUnsupportedCredential when the credential is not
// theirs to judge, an error wrapping apperr.ErrUnauthenticated when it is
// theirs and invalid, and any other error for backend failures.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (*Principal, error)
}

// ErrUnsupportedCredential lets a ChainAuthenticator move on to the next
// authenticator.
var ErrUnsupportedCredential = errors.New("credential not supported by this authenticator")

// TokenStore looks up stored API tokens by hash.
type TokenStore interface {
	GetTokenByHash(ctx context.Context, tokenHash string) (*APIToken, error)
}

// SessionValidator checks a session id and refreshes its activity.
// It returns an error wrapping apperr.ErrUnauthenticated for unknown, revoked
// or expired sessions.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (userID string, err error)
}

// TokenAuthenticator validates opaque tg_ API tokens.
type TokenAuthenticator struct {
	store     TokenStore
	generator *TokenGenerator
	now       func() time.Time
}

// NewTokenAuthenticator creates a token authenticator backed by store
func NewTokenAuthenticator(store TokenStore) *TokenAuthenticator {
	return &TokenAuthenticator{
		store:     store,
		generator: NewTokenGenerator(),
		now:       time.Now,
	}
}

// Authenticate implements Authenticator
func (a *TokenAuthenticator) Authenticate(ctx context.Context, cred Credential) (*Principal, error) {
	if cred.Kind != CredentialBearer || !strings.HasPrefix(cred.Value, TokenPrefix) {
		return nil, ErrUnsupportedCredential
	}
	if err := a.generator.ValidateTokenFormat(cred.Value); err != nil {
		return nil, fmt.Errorf("%w: malformed token", apperr.ErrUnauthenticated)
	}

	token, err := a.store.GetTokenByHash(ctx, a.generator.HashToken(cred.Value))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown token", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if !token.Usable(a.now()) {
		return nil, fmt.Errorf("%w: token revoked or expired", apperr.ErrUnauthenticated)
	}

	return &Principal{UserID: token.UserID, Method: "token"}, nil
}

// SessionAuthenticator validates session cookies through the session manager.
type SessionAuthenticator struct {
	sessions SessionValidator
}

// NewSessionAuthenticator creates a session cookie authenticator
func NewSessionAuthenticator(sessions SessionValidator) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions}
}

// Authenticate implements Authenticator
func (a *SessionAuthenticator) Authenticate(ctx context.Context, cred Credential) (*Principal, error) {
	if cred.Kind != CredentialSession {
		return nil, ErrUnsupportedCredential
	}

	userID, err := a.sessions.ValidateSession(ctx, cred.Value)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: userID, SessionID: cred.Value, Method: "session"}, nil
}

// IdentityResolver maps an external identity onto a local user id.
type IdentityResolver interface {
	UserIDForSubject(ctx context.Context, issuer, subject string) (string, error)
}

// idTokenVerifier is satisfied by *oidc.IDTokenVerifier.
type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// OIDCAuthenticator validates bearer JWTs issued by an external identity provider.
type OIDCAuthenticator struct {
	verifier   idTokenVerifier
	identities IdentityResolver
}

// NewOIDCAuthenticator discovers the issuer and builds a verifier for clientID.
func NewOIDCAuthenticator(ctx context.Context, issuerURL, clientID string, identities IdentityResolver) (*OIDCAuthenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: clientID})
	return &OIDCAuthenticator{verifier: verifier, identities: identities}, nil
}

// Authenticate implements Authenticator
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, cred Credential) (*Principal, error) {
	if cred.Kind != CredentialBearer || strings.HasPrefix(cred.Value, TokenPrefix) {
		return nil, ErrUnsupportedCredential
	}

	idToken, err := a.verifier.Verify(ctx, cred.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid identity token", apperr.ErrUnauthenticated)
	}

	userID, err := a.identities.UserIDForSubject(ctx, idToken.Issuer, idToken.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: no local user for subject", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	return &Principal{UserID: userID, Method: "oidc"}, nil
}

// ChainAuthenticator tries each authenticator in order until one accepts
// responsibility for the credential.
type ChainAuthenticator struct {
	authenticators []Authenticator
}

// NewChainAuthenticator creates a chain. Nil entries are skipped.
func NewChainAuthenticator(authenticators ...Authenticator) *ChainAuthenticator {
	chain := &ChainAuthenticator{}
	for _, a := range authenticators {
		if a != nil {
			chain.authenticators = append(chain.authenticators, a)
		}
	}
	return chain
}

// Authenticate implements Authenticator
func (c *ChainAuthenticator) Authenticate(ctx context.Context, cred Credential) (*Principal, error) {
	if cred.Empty() {
		return nil, fmt.Errorf("%w: no credential", apperr.ErrUnauthenticated)
	}

	for _, a := range c.authenticators {
		p, err := a.Authenticate(ctx, cred)
		if errors.Is(err, ErrUnsupportedCredential) {
			continue
		}
		return p, err
	}

	return nil, fmt.Errorf("%w: unsupported credential", apperr.ErrUnauthenticated)
}
