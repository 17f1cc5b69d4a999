// Package auth turns request credentials into a per-request TenantContext.
//
// # Overview
//
// A request presents either a bearer credential (an opaque tg_ API token or an
// identity-provider JWT) or a session cookie. The Resolver authenticates it,
// loads the caller's membership in the requested organization (or their most
// recently active one), merges role permissions, explicit overrides and any
// active admin grant, and returns an immutable TenantContext.
//
//	authn := auth.NewChainAuthenticator(
//		auth.NewTokenAuthenticator(tokenStore),
//		auth.NewSessionAuthenticator(sessionManager),
//	)
//	resolver := auth.NewResolver(authn, memberships, admins, catalog.Default())
//	tc, err := resolver.Resolve(ctx, auth.Credential{Kind: auth.CredentialBearer, Value: raw}, orgID)
//
// # Tokens
//
// Tokens have the form tg_<base64url(32 random bytes)> and are stored only as
// SHA-256 hashes plus a short display prefix.
//
// # Caching
//
// CachingLoader sits in front of the membership and admin loaders. It is
// invalidated synchronously by the services that change memberships or admin
// records, so a revocation is visible to the next request.
//
// # Errors
//
// Resolve returns errors wrapping apperr.ErrUnauthenticated (bad or missing
// credential) or apperr.ErrNoMembership (valid user, no membership). Other
// errors are backend failures and map to 500.
package auth
