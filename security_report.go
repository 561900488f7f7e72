package shopGuard

import (
	"time"

	"github.com/MrEthical07/shopGuard/ratelimit"
)

// SecurityReport summarises the security posture a Gate was built with.
// It carries no secrets and is safe to log at start-up.
type SecurityReport struct {
	ProductionMode   bool
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Argon2           PasswordConfigReport
	CookieSecure     bool
	CookieSameSite   string
	APIFailOpen      bool
	AuthFailOpen     bool
	CSRFSingleUse    bool
	CSRFTTL          time.Duration
	FieldEncryption  bool
	GeoIPConfigured  bool
	TrustProxy       bool
	AuditEnabled     bool

	// Warnings lists settings that weaken the gate. Empty is good.
	Warnings []string
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityReport describes g's effective configuration.
func (g *Gate) SecurityReport() SecurityReport {
	if g == nil {
		return SecurityReport{}
	}
	c := g.config
	r := SecurityReport{
		ProductionMode:   c.Security.ProductionMode,
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		CookieSecure:    c.Cookie.Secure,
		CookieSameSite:  c.Cookie.SameSite,
		APIFailOpen:     g.apiPolicy.FailureMode == ratelimit.FailOpen,
		AuthFailOpen:    g.authPolicy.FailureMode == ratelimit.FailOpen,
		CSRFSingleUse:   c.CSRF.SingleUse,
		CSRFTTL:         c.CSRF.TTL,
		FieldEncryption: g.cipher != nil,
		GeoIPConfigured: c.Risk.GeoIPDatabase != "",
		TrustProxy:      c.Security.TrustProxy,
		AuditEnabled:    g.audit != nil,
	}

	if !r.CookieSecure {
		r.Warnings = append(r.Warnings, "cookies are sent over plain HTTP")
	}
	if r.AuthFailOpen {
		r.Warnings = append(r.Warnings, "auth rate limit fails open while the store is down")
	}
	if !r.CSRFSingleUse {
		r.Warnings = append(r.Warnings, "CSRF tokens are reusable until they expire")
	}
	if !r.FieldEncryption {
		r.Warnings = append(r.Warnings, "field encryption is disabled")
	}
	if r.TrustProxy {
		r.Warnings = append(r.Warnings, "client IP is taken from X-Forwarded-For; only enable behind a trusted proxy")
	}
	return r
}
