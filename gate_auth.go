package shopGuard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Authorization levels carried in the access token's lvl claim.
const (
	LevelStandard = 1
	LevelElevated = 2
)

// Identity is the verified caller attached to a request.
type Identity struct {
	Subject   string
	Role      string
	Level     int
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the identity holds any of roles.
func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// TokenPair is what a login or refresh hands back to the client.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LevelFor maps a role onto its authorization level.
func (g *Gate) LevelFor(role string) int {
	if _, ok := g.adminRoles[role]; ok {
		return LevelElevated
	}
	return LevelStandard
}

// IssueAccessToken signs a short-lived access token for subject.
func (g *Gate) IssueAccessToken(subject, role string) (string, error) {
	token, _, err := g.tokens.IssueAccess(subject, role, g.LevelFor(role))
	if err != nil {
		return "", err
	}
	g.metrics.Inc(MetricTokenIssued)
	return token, nil
}

// IssueRefreshToken signs a long-lived refresh token for subject.
func (g *Gate) IssueRefreshToken(subject string) (string, error) {
	token, _, err := g.tokens.IssueRefresh(subject)
	if err != nil {
		return "", err
	}
	g.metrics.Inc(MetricTokenIssued)
	return token, nil
}

// IssueTokenPair issues both tokens and audits the issuance with the client
// IP carried by ctx.
func (g *Gate) IssueTokenPair(ctx context.Context, subject, role string) (*TokenPair, error) {
	access, accessExp, err := g.tokens.IssueAccess(subject, role, g.LevelFor(role))
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := g.tokens.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}
	g.metrics.Inc(MetricTokenIssued)
	g.metrics.Inc(MetricTokenIssued)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditTokenIssued,
		Subject:   subject,
		Success:   true,
		Metadata:  map[string]string{"role": role},
	})
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks an access token and returns its identity, or an *AuthError.
func (g *Gate) Verify(token string) (*Identity, error) {
	if token == "" {
		g.metrics.Inc(MetricAuthMissing)
		return nil, &AuthError{Kind: KindMissing, Err: ErrTokenMissing}
	}

	var start time.Time
	if g.metrics.LatencyEnabled() {
		start = time.Now()
	}
	claims, err := g.tokens.ParseAccess(token)
	if !start.IsZero() {
		g.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}
	if err != nil {
		ae := authError(err)
		if ae.Kind == KindExpired {
			g.metrics.Inc(MetricAuthExpired)
		} else {
			g.metrics.Inc(MetricAuthInvalid)
		}
		return nil, ae
	}

	g.metrics.Inc(MetricAuthSuccess)
	id := &Identity{
		Subject: claims.Subject,
		Role:    claims.Role,
		Level:   claims.Level,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// HasCredentials reports whether r carries an access cookie or bearer header.
func (g *Gate) HasCredentials(r *http.Request) bool {
	token, _ := g.tokenFromRequest(r)
	return token != ""
}

// AuthenticateRequest verifies the request's access token, preferring the
// access cookie over the Authorization header. On success the returned
// request carries the identity in its context.
//
// Failures are logged and audited with their reason; the *AuthError's
// PublicMessage is all a client should see.
func (g *Gate) AuthenticateRequest(r *http.Request) (*http.Request, *Identity, error) {
	token, source := g.tokenFromRequest(r)
	id, err := g.Verify(token)
	if err != nil {
		ae := authError(err)
		ip := ClientIPFromContext(r.Context())
		g.logger.Warn("authentication failed",
			zap.String("reason", ae.Kind.String()),
			zap.String("source", source),
			zap.String("path", r.URL.Path),
			zap.String("client_ip", ip),
			zap.Error(ae.Err),
		)
		g.emitAudit(r.Context(), AuditEvent{
			EventType: AuditAuthFailure,
			IP:        ip,
			Path:      r.URL.Path,
			Reason:    ae.Kind.String(),
		})
		return r, nil, ae
	}
	return r.WithContext(WithIdentity(r.Context(), id)), id, nil
}

func (g *Gate) tokenFromRequest(r *http.Request) (token, source string) {
	if c, err := r.Cookie(g.config.Cookie.AccessTokenName); err == nil && c.Value != "" {
		return c.Value, "cookie"
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if value = strings.TrimSpace(value); value != "" {
				return value, "header"
			}
		}
	}
	return "", "none"
}

// Refresh exchanges a refresh token for a new pair. The role is looked up
// again through the RoleProvider rather than trusted from the old token.
func (g *Gate) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		g.metrics.Inc(MetricRefreshFailure)
		return nil, &AuthError{Kind: KindMissing, Err: ErrTokenMissing}
	}
	if g.roles == nil {
		return nil, &AuthError{Kind: KindConfig, Err: fmt.Errorf("%w: refresh requires a RoleProvider", ErrConfig)}
	}

	claims, err := g.tokens.ParseRefresh(refreshToken)
	if err != nil {
		ae := authError(err)
		g.refreshFailed(ctx, "", ae)
		return nil, ae
	}

	role, err := g.roles.RoleFor(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrUnknownSubject):
		ae := &AuthError{Kind: KindInvalidClaims, Err: err}
		g.refreshFailed(ctx, claims.Subject, ae)
		return nil, ae
	case err != nil:
		g.metrics.Inc(MetricRefreshFailure)
		return nil, fmt.Errorf("shopguard: role lookup: %w", err)
	case role == "":
		ae := &AuthError{Kind: KindInvalidClaims, Err: fmt.Errorf("%w: subject has no role", ErrClaimsInvalid)}
		g.refreshFailed(ctx, claims.Subject, ae)
		return nil, ae
	}

	pair, err := g.IssueTokenPair(ctx, claims.Subject, role)
	if err != nil {
		g.metrics.Inc(MetricRefreshFailure)
		return nil, err
	}
	g.metrics.Inc(MetricRefreshSuccess)
	g.emitAudit(ctx, AuditEvent{EventType: AuditRefresh, Subject: claims.Subject, Success: true})
	return pair, nil
}

func (g *Gate) refreshFailed(ctx context.Context, subject string, ae *AuthError) {
	g.metrics.Inc(MetricRefreshFailure)
	g.logger.Warn("refresh failed",
		zap.String("reason", ae.Kind.String()),
		zap.String("subject", subject),
		zap.Error(ae.Err),
	)
	g.emitAudit(ctx, AuditEvent{
		EventType: AuditRefreshFailure,
		Subject:   subject,
		Reason:    ae.Kind.String(),
	})
}
