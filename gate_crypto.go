package shopGuard

import "context"

// HashPassword returns an argon2id PHC string.
func (g *Gate) HashPassword(password string) (string, error) {
	return g.passwords.Hash(password)
}

// VerifyPassword checks password against an argon2id or legacy bcrypt hash.
// rehash is true when the stored hash should be replaced on this login.
func (g *Gate) VerifyPassword(password, encoded string) (ok, rehash bool, err error) {
	ok, err = g.passwords.Verify(password, encoded)
	if err != nil || !ok {
		return false, false, err
	}
	rehash, err = g.passwords.NeedsRehash(encoded)
	if err != nil {
		return true, false, nil
	}
	if rehash {
		g.emitAudit(context.Background(), AuditEvent{EventType: AuditPasswordRehash, Success: true})
	}
	return true, rehash, nil
}

// Seal encrypts a sensitive field (address, phone) for storage.
func (g *Gate) Seal(plaintext string) (string, error) {
	if g.cipher == nil {
		return "", ErrCryptoDisabled
	}
	return g.cipher.EncryptString(plaintext)
}

// Open decrypts a value produced by Seal.
func (g *Gate) Open(sealed string) (string, error) {
	if g.cipher == nil {
		return "", ErrCryptoDisabled
	}
	return g.cipher.DecryptString(sealed)
}

// BlindIndex returns a deterministic keyed hash of value so an encrypted
// column can still be looked up by equality. Callers normalise value first.
func (g *Gate) BlindIndex(value string) (string, error) {
	if g.index == nil {
		return "", ErrCryptoDisabled
	}
	return g.index.Hash(value), nil
}
