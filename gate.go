package shopGuard

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/shopGuard/crypto"
	"github.com/MrEthical07/shopGuard/csrf"
	"github.com/MrEthical07/shopGuard/jwt"
	"github.com/MrEthical07/shopGuard/password"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"go.uber.org/zap"
)

// Gate is the request security pipeline: token verification, rate limiting,
// risk scoring and CSRF protection. It is safe for concurrent use.
type Gate struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	tokens    *jwt.Manager
	passwords *password.Hasher
	limiter   *ratelimit.Limiter
	csrf      *csrf.Store
	scorer    *risk.Scorer
	cipher    *crypto.Cipher
	index     *crypto.KeyedHasher
	roles     RoleProvider

	adminRoles map[string]struct{}
	apiPolicy  ratelimit.Policy
	authPolicy ratelimit.Policy

	audit   *auditDispatcher
	metrics *Metrics
	closers []io.Closer
}

// Close flushes queued audit events and releases the GeoIP database.
// The Redis client belongs to the caller and stays open.
func (g *Gate) Close() error {
	if g == nil {
		return nil
	}
	g.audit.Close()
	return g.closeResources()
}

func (g *Gate) closeResources() error {
	var errs []error
	for _, c := range g.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}

func (g *Gate) MetricsSnapshot() MetricsSnapshot {
	return g.metrics.Snapshot()
}

// AuditDropped counts events discarded because the audit buffer was full.
func (g *Gate) AuditDropped() uint64 {
	return g.audit.Dropped()
}

func (g *Gate) Logger() *zap.Logger { return g.logger }

// Cookies returns the cookie settings the middleware should apply.
func (g *Gate) Cookies() CookieConfig { return g.config.Cookie }

// TrustProxy reports whether forwarding headers may name the client.
func (g *Gate) TrustProxy() bool { return g.config.Security.TrustProxy }

// APIPolicy and AuthPolicy are the configured storefront and credential policies.
func (g *Gate) APIPolicy() ratelimit.Policy  { return g.apiPolicy }
func (g *Gate) AuthPolicy() ratelimit.Policy { return g.authPolicy }

// CSRFTTL is how long an issued CSRF token stays valid.
func (g *Gate) CSRFTTL() time.Duration { return g.csrf.TTL() }

// Now is the gate's clock.
func (g *Gate) Now() time.Time { return g.now() }

func (g *Gate) emitAudit(ctx context.Context, event AuditEvent) {
	if g.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	g.audit.Emit(ctx, event)
}
