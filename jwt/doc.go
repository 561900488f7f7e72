// Package jwt issues and verifies the gate's access and refresh tokens.
//
// Access tokens carry sub, role, lvl (authorization level) and typ=access.
// Refresh tokens carry sub and typ=refresh only. Both carry jti, iat and exp.
// Tokens are stateless: there is no revocation list, so access TTLs should be
// kept to minutes.
//
// Verification failures wrap exactly one of [ErrTokenMalformed],
// [ErrTokenExpired], [ErrSignatureInvalid] or [ErrClaimsInvalid].
//
// # What this package must NOT do
//
//   - Read tokens from HTTP requests (the root package and middleware do that).
//   - Touch Redis or any other store.
package jwt
