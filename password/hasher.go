package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is the password service used by the gate. New hashes are always
// argon2id; bcrypt hashes imported from older account stores still verify
// and are flagged for rehash.
type Hasher struct {
	argon *Argon2
}

// NewHasher wraps argon for hashing and legacy-aware verification.
func NewHasher(argon *Argon2) *Hasher {
	return &Hasher{argon: argon}
}

// Hash produces an argon2id PHC string.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify checks password against either an argon2id or a bcrypt hash.
// A mismatch is (false, nil); only unusable inputs return an error.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if isBcrypt(encoded) {
		if h.argon.tooLong(password) {
			return false, ErrPasswordTooLong
		}
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, ErrMalformedHash
		}
	}
	return h.argon.Verify(password, encoded)
}

// NeedsRehash is true for every bcrypt hash and for argon2id hashes with
// weaker parameters than the current config.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	if isBcrypt(encoded) {
		return true, nil
	}
	return h.argon.NeedsUpgrade(encoded)
}

func isBcrypt(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}
