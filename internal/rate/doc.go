// Package rate provides the Redis fixed-window counter that backs every rate
// limit policy in shopGuard.
//
// # Window semantics
//
// Each window is a small hash holding the hit count and a window id. One Lua
// script increments the count, tags a fresh key with a new id and, when the key
// has no TTL, sets PEXPIRE to the window length. It returns count, remaining
// PTTL and id in one round trip, so concurrent first hits on a fresh key can
// never both observe a count below the limit. Counters disappear when the
// window elapses.
//
// Refunds name the window id they belong to. A refund whose window has
// expired or been reset is dropped rather than subtracted from its successor.
//
// Keys are laid out as <prefix>:<policy>:<client>. Callers are expected to pass
// an already-hashed client identifier.
//
// # What this package must NOT do
//
//   - Decide allow or deny (package ratelimit owns policies and failure modes).
//   - Be imported outside the shopGuard module.
package rate
