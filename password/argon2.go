package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	phcAlgorithm = "argon2id"

	// Floors below which neither config nor stored hashes are accepted.
	floorMemoryKiB = 8 * 1024
	floorSaltBytes = 16
	floorKeyBytes  = 16

	// Shop accounts need at least this many bytes of password.
	minPasswordBytes = 10
)

// DefaultMaxPasswordBytes caps plaintext length when Config.MaxPasswordBytes is zero.
// argon2 cost grows with input, so unbounded passwords are a cheap CPU amplifier.
const DefaultMaxPasswordBytes = 1024

var (
	// ErrPasswordTooShort is returned by Hash for inputs under 10 bytes.
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
	// ErrPasswordTooLong is returned when the input exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash is returned for stored hashes that cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrWeakConfig is returned by NewArgon2 for parameters under the floor.
	ErrWeakConfig = errors.New("password hashing config below minimum")
)

// Config holds argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// DefaultConfig returns the OWASP-recommended argon2id profile.
func DefaultConfig() Config {
	return Config{
		Memory:           64 * 1024,
		Time:             3,
		Parallelism:      2,
		SaltLength:       16,
		KeyLength:        32,
		MaxPasswordBytes: DefaultMaxPasswordBytes,
	}
}

// cost is the work factor recorded in every stored hash.
type cost struct {
	memory  uint32
	passes  uint32
	threads uint8
}

// below reports whether c does less work than target on any axis.
func (c cost) below(target cost) bool {
	return c.memory < target.memory || c.passes < target.passes || c.threads < target.threads
}

// storedHash is a decoded account password hash:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<threads>$<salt>$<key>
//
// salt and key are padded standard base64.
type storedHash struct {
	cost
	salt []byte
	key  []byte
}

func (h storedHash) String() string {
	return fmt.Sprintf("$%s$v=%d$%s$%s$%s",
		phcAlgorithm,
		argon2.Version,
		h.cost.params(),
		base64.StdEncoding.EncodeToString(h.salt),
		base64.StdEncoding.EncodeToString(h.key),
	)
}

func (c cost) params() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", c.memory, c.passes, c.threads)
}

// decodeStoredHash parses s strictly: fields must appear in canonical order
// and the cost may not fall under the floors NewArgon2 enforces.
func decodeStoredHash(s string) (storedHash, error) {
	var h storedHash
	bad := func(reason string) (storedHash, error) {
		return storedHash{}, fmt.Errorf("%w: %s", ErrMalformedHash, reason)
	}

	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" {
		return bad("not a PHC string")
	}
	if fields[1] != phcAlgorithm {
		return bad("algorithm " + fields[1])
	}
	if fields[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return bad("argon2 version " + fields[2])
	}

	var memory, passes, threads uint64
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &memory, &passes, &threads); err != nil {
		return bad("cost parameters")
	}
	if memory < floorMemoryKiB || memory > 1<<32-1 || passes < 1 || passes > 1<<32-1 || threads < 1 || threads > 255 {
		return bad("cost parameters out of range")
	}
	h.cost = cost{memory: uint32(memory), passes: uint32(passes), threads: uint8(threads)}
	if h.cost.params() != fields[3] {
		return bad("cost parameters not canonical")
	}

	var err error
	if h.salt, err = base64.StdEncoding.DecodeString(fields[4]); err != nil || len(h.salt) < floorSaltBytes {
		return bad("salt")
	}
	if h.key, err = base64.StdEncoding.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return bad("key")
	}
	return h, nil
}

// Argon2 hashes account passwords as argon2id PHC strings.
type Argon2 struct {
	cfg  Config
	cost cost
}

// NewArgon2 rejects configs under the floor with ErrWeakConfig.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	checks := []struct {
		ok   bool
		what string
	}{
		{cfg.Memory >= floorMemoryKiB, "memory must be >= 8192 KiB"},
		{cfg.Time >= 1, "time must be >= 1"},
		{cfg.Parallelism >= 1, "parallelism must be >= 1"},
		{cfg.SaltLength >= floorSaltBytes, "salt length must be >= 16"},
		{cfg.KeyLength >= floorKeyBytes, "key length must be >= 16"},
		{cfg.MaxPasswordBytes >= minPasswordBytes, "max password bytes must be >= 10"},
	}
	for _, c := range checks {
		if !c.ok {
			return nil, fmt.Errorf("%w: %s", ErrWeakConfig, c.what)
		}
	}

	return &Argon2{
		cfg:  cfg,
		cost: cost{memory: cfg.Memory, passes: cfg.Time, threads: cfg.Parallelism},
	}, nil
}

func (a *Argon2) tooLong(password string) bool {
	return len(password) > a.cfg.MaxPasswordBytes
}

func (a *Argon2) derive(password string, salt []byte, c cost, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, c.passes, c.memory, c.threads, keyLen)
}

// Hash returns a PHC string for password with a fresh random salt.
// Password bytes are used exactly as provided (no Unicode normalization).
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < minPasswordBytes:
		return "", ErrPasswordTooShort
	case a.tooLong(password):
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	h := storedHash{
		cost: a.cost,
		salt: salt,
		key:  a.derive(password, salt, a.cost, a.cfg.KeyLength),
	}
	return h.String(), nil
}

// Verify recomputes the key with the cost stored in encoded and compares in
// constant time. A wrong password is (false, nil).
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if a.tooLong(password) {
		return false, ErrPasswordTooLong
	}
	h, err := decodeStoredHash(encoded)
	if err != nil {
		return false, err
	}
	got := a.derive(password, h.salt, h.cost, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was hashed with less work or a
// different key length than the current config.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	h, err := decodeStoredHash(encoded)
	if err != nil {
		return false, err
	}
	return h.cost.below(a.cost) || uint32(len(h.key)) != a.cfg.KeyLength, nil
}
