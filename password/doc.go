// Package password implements shopper and staff password hashing with argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] also verifies bcrypt hashes ($2a$, $2b$, $2y$) carried over from
// older account stores. [Hasher.NeedsRehash] returns true for those and for
// argon2id hashes produced with weaker parameters, so callers can re-hash on
// the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other shopGuard package.
//   - Log plaintext passwords.
package password
