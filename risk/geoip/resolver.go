// Package geoip resolves client countries from a MaxMind GeoIP2 or GeoLite2
// Country/City database.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrNoDatabase is returned by Open when path is empty.
var ErrNoDatabase = errors.New("geoip: database path required")

// Resolver satisfies risk.GeoResolver. It is safe for concurrent use.
type Resolver struct {
	db *geoip2.Reader
}

// Open memory-maps the .mmdb file at path.
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoDatabase
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Resolver{db: db}, nil
}

// Country returns the ISO 3166-1 alpha-2 code for ip. Lookup failures,
// private ranges and records without a country are unresolved.
func (r *Resolver) Country(ip netip.Addr) (string, bool) {
	if r == nil || r.db == nil || !ip.IsValid() {
		return "", false
	}
	rec, err := r.db.Country(net.IP(ip.Unmap().AsSlice()))
	if err != nil || rec.Country.IsoCode == "" {
		return "", false
	}
	return rec.Country.IsoCode, true
}

// Close unmaps the database.
func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
