package main

import (
	"context"
	"errors"
	"strings"
	"sync"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/google/uuid"
)

var errBadCredentials = errors.New("invalid email or password")

type account struct {
	id           string
	email        string
	passwordHash string
	role         string
	// address is sealed when field encryption is configured.
	address string
}

// directory is an in-memory account table. It doubles as the gate's
// RoleProvider so refreshed tokens pick up role changes.
type directory struct {
	gate *shopGuard.Gate

	mu      sync.RWMutex
	byEmail map[string]*account
	byID    map[string]*account
}

// newDirectory returns an empty table. gate must be set before use; it is
// assigned after Build because the gate itself depends on the directory.
func newDirectory() *directory {
	return &directory{
		byEmail: make(map[string]*account),
		byID:    make(map[string]*account),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *directory) add(email, password, role, address string) (string, error) {
	hash, err := d.gate.HashPassword(password)
	if err != nil {
		return "", err
	}
	sealed, err := d.gate.Seal(address)
	switch {
	case errors.Is(err, shopGuard.ErrCryptoDisabled):
		sealed = address
	case err != nil:
		return "", err
	}
	a := &account{
		id:           uuid.NewString(),
		email:        normalizeEmail(email),
		passwordHash: hash,
		role:         role,
		address:      sealed,
	}
	d.mu.Lock()
	d.byEmail[a.email] = a
	d.byID[a.id] = a
	d.mu.Unlock()
	return a.id, nil
}

// authenticate checks credentials and upgrades legacy hashes in place.
func (d *directory) authenticate(email, password string) (*account, error) {
	d.mu.RLock()
	a, ok := d.byEmail[normalizeEmail(email)]
	d.mu.RUnlock()
	if !ok {
		// Hash anyway so unknown accounts cost the same as wrong passwords.
		_, _ = d.gate.HashPassword(password)
		return nil, errBadCredentials
	}

	ok, rehash, err := d.gate.VerifyPassword(password, a.passwordHash)
	if err != nil || !ok {
		return nil, errBadCredentials
	}
	if rehash {
		if hash, err := d.gate.HashPassword(password); err == nil {
			d.mu.Lock()
			a.passwordHash = hash
			d.mu.Unlock()
		}
	}
	return a, nil
}

func (d *directory) lookup(id string) (account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[id]
	if !ok {
		return account{}, false
	}
	return *a, true
}

// shippingAddress returns a's address in clear text.
func (d *directory) shippingAddress(a account) (string, error) {
	addr, err := d.gate.Open(a.address)
	if errors.Is(err, shopGuard.ErrCryptoDisabled) {
		return a.address, nil
	}
	return addr, err
}

func (d *directory) setRole(id, role string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.byID[id]
	if ok {
		a.role = role
	}
	return ok
}

func (d *directory) RoleFor(_ context.Context, subject string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.byID[subject]
	if !ok {
		return "", shopGuard.ErrUnknownSubject
	}
	return a.role, nil
}
