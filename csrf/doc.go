// Package csrf stores per-session anti-forgery tokens in Redis.
//
// Tokens are 32 random bytes, base64url encoded, kept under a hashed session
// key with a TTL. Validation is constant-time and, by default, consumes the
// token atomically so it cannot be replayed.
//
// Browsers present the token twice: in the X-CSRF-Token header (canonical)
// and in the csrf_token cookie. The middleware requires both to agree before
// consulting the store.
package csrf
