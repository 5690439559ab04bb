// Package auth provides the credential and session primitives.
//
// # Tokens
//
// TokenIssuer mints 256-bit hex tokens from crypto/rand. Tokens are never
// stored as issued; invitations and password resets keep only HashToken(token).
//
//	token, tokenHash, err := auth.NewTokenIssuer().IssueWithHash()
//
// # Passwords
//
// PasswordHasher wraps bcrypt. Callers treat ErrPasswordTooLong as a
// validation failure.
//
// # Sessions
//
// SessionManager stores only the user ID in a signed gorilla/sessions cookie.
// Each request resolves it through an IdentityLoader, with a short-lived LRU in
// front, so role changes and deactivation apply without signing out.
//
// # Client address
//
// ProxyTrust.Middleware resolves the caller's IP once per request. Forwarding
// headers are read only when the direct peer is a configured proxy.
package auth
