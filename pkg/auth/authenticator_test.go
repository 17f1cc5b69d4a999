package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantguard/pkg/apperr"
)

type fakeTokenStore struct {
	tokens map[string]*APIToken
	err    error
}

func (f *fakeTokenStore) GetTokenByHash(ctx context.Context, hash string) (*APIToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	tok, ok := f.tokens[hash]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return tok, nil
}

type fakeSessions struct {
	users map[string]string
}

func (f *fakeSessions) ValidateSession(ctx context.Context, id string) (string, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return "", fmt.Errorf("%w: session not active", apperr.ErrUnauthenticated)
}

type fakeVerifier struct {
	token *oidc.IDToken
	err   error
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (*oidc.IDToken, error) {
	return f.token, f.err
}

type fakeIdentities map[string]string

func (f fakeIdentities) UserIDForSubject(ctx context.Context, issuer, subject string) (string, error) {
	if u, ok := f[issuer+"|"+subject]; ok {
		return u, nil
	}
	return "", apperr.ErrNotFound
}

func newTokenFixture(t *testing.T) (string, *fakeTokenStore) {
	t.Helper()
	tg := NewTokenGenerator()
	raw, hash, prefix, err := tg.GenerateToken()
	require.NoError(t, err)
	store := &fakeTokenStore{tokens: map[string]*APIToken{
		hash: {ID: "tok-1", UserID: "user-1", TokenHash: hash, TokenPrefix: prefix},
	}}
	return raw, store
}

func TestTokenAuthenticator(t *testing.T) {
	raw, store := newTokenFixture(t)
	a := NewTokenAuthenticator(store)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		p, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: raw})
		require.NoError(t, err)
		assert.Equal(t, "user-1", p.UserID)
		assert.Empty(t, p.SessionID)
	})

	t.Run("session credential is not ours", func(t *testing.T) {
		_, err := a.Authenticate(ctx, Credential{Kind: CredentialSession, Value: raw})
		assert.ErrorIs(t, err, ErrUnsupportedCredential)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: TokenPrefix + "short"})
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	})

	t.Run("unknown token", func(t *testing.T) {
		other, _, _, err := NewTokenGenerator().GenerateToken()
		require.NoError(t, err)
		_, err = a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: other})
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	})

	t.Run("revoked token", func(t *testing.T) {
		revoked := time.Now().Add(-time.Minute)
		for _, tok := range store.tokens {
			tok.RevokedAt = &revoked
		}
		defer func() {
			for _, tok := range store.tokens {
				tok.RevokedAt = nil
			}
		}()
		_, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: raw})
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	})

	t.Run("store failure is not an auth failure", func(t *testing.T) {
		failing := NewTokenAuthenticator(&fakeTokenStore{err: errors.New("connection refused")})
		_, err := failing.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: raw})
		require.Error(t, err)
		assert.NotErrorIs(t, err, apperr.ErrUnauthenticated)
	})
}

func TestSessionAuthenticator(t *testing.T) {
	a := NewSessionAuthenticator(&fakeSessions{users: map[string]string{"s1": "user-1"}})
	ctx := context.Background()

	p, err := a.Authenticate(ctx, Credential{Kind: CredentialSession, Value: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "s1", p.SessionID)

	_, err = a.Authenticate(ctx, Credential{Kind: CredentialSession, Value: "s2"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "s1"})
	assert.ErrorIs(t, err, ErrUnsupportedCredential)
}

func TestOIDCAuthenticator(t *testing.T) {
	ctx := context.Background()
	ids := fakeIdentities{"https://idp.example.com|sub-1": "user-9"}

	t.Run("verified and linked", func(t *testing.T) {
		a := &OIDCAuthenticator{
			verifier:   &fakeVerifier{token: &oidc.IDToken{Issuer: "https://idp.example.com", Subject: "sub-1"}},
			identities: ids,
		}
		p, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "eyJhbGciOi..."})
		require.NoError(t, err)
		assert.Equal(t, "user-9", p.UserID)
	})

	t.Run("verification failure", func(t *testing.T) {
		a := &OIDCAuthenticator{verifier: &fakeVerifier{err: errors.New("expired")}, identities: ids}
		_, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "eyJ"})
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	})

	t.Run("unlinked subject", func(t *testing.T) {
		a := &OIDCAuthenticator{
			verifier:   &fakeVerifier{token: &oidc.IDToken{Issuer: "https://idp.example.com", Subject: "sub-2"}},
			identities: ids,
		}
		_, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "eyJ"})
		assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	})

	t.Run("tg tokens are left to the token authenticator", func(t *testing.T) {
		a := &OIDCAuthenticator{verifier: &fakeVerifier{}, identities: ids}
		_, err := a.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: TokenPrefix + "abc"})
		assert.ErrorIs(t, err, ErrUnsupportedCredential)
	})
}

func TestChainAuthenticator(t *testing.T) {
	raw, store := newTokenFixture(t)
	chain := NewChainAuthenticator(
		NewTokenAuthenticator(store),
		nil,
		NewSessionAuthenticator(&fakeSessions{users: map[string]string{"s1": "user-2"}}),
	)
	ctx := context.Background()

	p, err := chain.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: raw})
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)

	p, err = chain.Authenticate(ctx, Credential{Kind: CredentialSession, Value: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "user-2", p.UserID)

	_, err = chain.Authenticate(ctx, Credential{Kind: CredentialBearer, Value: "opaque-but-not-ours"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	_, err = chain.Authenticate(ctx, Credential{})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}
