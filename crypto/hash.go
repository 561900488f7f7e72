package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinHashKeySize is the shortest accepted HMAC key.
const MinHashKeySize = 32

// KeyedHasher produces deterministic HMAC-SHA256 digests. The same value and key
// always yield the same digest, which makes it usable as a blind index or as a
// cache key that does not reveal the underlying identifier.
type KeyedHasher struct {
	key []byte
}

// NewKeyedHasher copies key. It must be at least [MinHashKeySize] bytes.
func NewKeyedHasher(key []byte) (*KeyedHasher, error) {
	if len(key) < MinHashKeySize {
		return nil, fmt.Errorf("%w: hash key must be >= %d bytes", ErrInvalidKey, MinHashKeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &KeyedHasher{key: k}, nil
}

// Hash returns the hex digest of value.
func (h *KeyedHasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports whether digest is the hash of value, in constant time.
func (h *KeyedHasher) Equal(value, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(value)), []byte(digest)) == 1
}

// DeriveKey expands master into a size-byte subkey bound to purpose.
// Distinct purposes yield independent keys.
func DeriveKey(master []byte, purpose string, size int) ([]byte, error) {
	if len(master) < KeySize {
		return nil, fmt.Errorf("%w: master key must be >= %d bytes", ErrInvalidKey, KeySize)
	}
	if purpose == "" || size <= 0 {
		return nil, fmt.Errorf("%w: purpose and size required", ErrInvalidKey)
	}

	out := make([]byte, size)
	r := hkdf.New(sha256.New, master, nil, []byte("shopguard:"+purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: derive %s: %w", purpose, err)
	}
	return out, nil
}
