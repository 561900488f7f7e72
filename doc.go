// Package shopGuard is the authentication and abuse gate placed in front of
// a storefront's HTTP API.
//
// A [Gate] is assembled once through [Builder.Build] and is safe for
// concurrent use afterwards. It combines:
//
//   - HS256 access and refresh tokens, read from a cookie or a bearer header
//   - a Redis fixed-window rate limiter with per-policy fail-open or fail-closed behaviour
//   - a request risk scorer driven by geo lookup, relay lists and user-agent signals
//   - single-use anti-forgery tokens bound to a session key
//   - argon2id password hashing and authenticated field encryption
//
// HTTP adapters live in the middleware package; exporters for Prometheus
// and OpenTelemetry live under metrics/export.
//
// # Errors
//
// Verification failures are returned as *[AuthError]; use [KindOf] to
// branch on the reason. Clients only ever see [AuthError.PublicMessage].
//
// # Hot path
//
// [Gate.Verify] never touches Redis. Rate-limit and anti-forgery checks
// make one store round trip each.
package shopGuard
