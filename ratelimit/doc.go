// Package ratelimit enforces named fixed-window request budgets backed by Redis.
//
// Every Check is a single atomic INCR-and-expire script, so concurrent requests
// for the same client can never be admitted past Max across any number of
// service instances.
//
// # Failure modes
//
// Each Policy chooses how to behave when Redis cannot be reached:
//
//   - FailClosed denies with ErrStoreUnavailable. AuthPolicy uses it.
//   - FailOpen logs a warning and decides from an in-process token bucket
//     refilling Max per Window. APIPolicy uses it.
//
// # What this package must NOT do
//
//   - Write HTTP responses. The middleware package maps Decisions to 429/503.
//   - Store raw client identifiers when a KeyHasher is configured.
package ratelimit
