// Package crypto holds the symmetric primitives shared by the gate: AES-256-GCM
// field encryption, deterministic keyed hashing for lookup indexes and cache keys,
// and HKDF subkey derivation from a single master key.
//
// # Output formats
//
// [Cipher.Encrypt] returns standard base64 of nonce || ciphertext || tag.
// [KeyedHasher.Hash] returns lowercase hex of HMAC-SHA256(key, value).
//
// # What this package must NOT do
//
//   - Hash passwords (see package password).
//   - Log keys, plaintexts or digests.
//   - Import any other shopGuard package.
package crypto
