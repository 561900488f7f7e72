package shopGuard

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/shopGuard/csrf"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"go.uber.org/zap"
)

/*
====================================
RATE LIMITING
====================================
*/

// CheckRateLimit counts one request for clientID under policy. Denials
// return ratelimit.ErrRateLimited; an unreachable store under a fail-closed
// policy returns ratelimit.ErrStoreUnavailable.
func (g *Gate) CheckRateLimit(ctx context.Context, policy ratelimit.Policy, clientID string) (ratelimit.Decision, error) {
	d, err := g.limiter.Check(ctx, policy, clientID)
	if d.Degraded && !errors.Is(err, ratelimit.ErrStoreUnavailable) {
		g.metrics.Inc(MetricRateLimitDegraded)
	}
	switch {
	case err == nil:
		g.metrics.Inc(MetricRateLimitAllowed)
	case errors.Is(err, ratelimit.ErrRateLimited):
		g.metrics.Inc(MetricRateLimitDenied)
		g.emitAudit(ctx, AuditEvent{
			EventType: AuditRateLimited,
			Reason:    policy.Name,
			Metadata:  map[string]string{"count": strconv.FormatInt(d.Count, 10)},
		})
	case errors.Is(err, ratelimit.ErrStoreUnavailable):
		g.metrics.Inc(MetricRateLimitStoreDown)
		g.emitAudit(ctx, AuditEvent{EventType: AuditRateLimitDown, Reason: policy.Name})
	}
	return d, err
}

// RefundRateLimit gives back the hit d recorded for a request that
// succeeded, for policies that only count failures. d must be the Decision
// CheckRateLimit returned for that request.
func (g *Gate) RefundRateLimit(ctx context.Context, policy ratelimit.Policy, clientID string, d ratelimit.Decision) error {
	return g.limiter.Refund(ctx, policy, clientID, d)
}

// RateLimitStatus reads clientID's window without counting.
func (g *Gate) RateLimitStatus(ctx context.Context, policy ratelimit.Policy, clientID string) (ratelimit.Decision, error) {
	return g.limiter.Status(ctx, policy, clientID)
}

// ResetRateLimit clears clientID's window.
func (g *Gate) ResetRateLimit(ctx context.Context, policy ratelimit.Policy, clientID string) error {
	return g.limiter.Reset(ctx, policy, clientID)
}

/*
====================================
RISK
====================================
*/

// AssessRisk scores req. It never fails and never touches the network
// beyond the configured geo resolver.
func (g *Gate) AssessRisk(req risk.Request) risk.Assessment {
	a := g.scorer.Assess(req)
	switch a.Decision {
	case risk.Allow:
		g.metrics.Inc(MetricRiskAllow)
	case risk.Review:
		g.metrics.Inc(MetricRiskReview)
	case risk.Challenge:
		g.metrics.Inc(MetricRiskChallenge)
	case risk.Block:
		g.metrics.Inc(MetricRiskBlock)
	}
	return a
}

// AssessHTTP scores r using clientIP and the configured fingerprint header,
// logging anything above Allow.
func (g *Gate) AssessHTTP(r *http.Request, clientIP string) risk.Assessment {
	a := g.AssessRisk(risk.RequestFromHTTP(r, clientIP, g.config.Risk.FingerprintHeader))
	if a.Decision == risk.Allow {
		return a
	}

	rules := make([]string, len(a.Rules))
	for i, rule := range a.Rules {
		rules[i] = string(rule)
	}
	fields := []zap.Field{
		zap.Int("score", a.Score),
		zap.String("decision", a.Decision.String()),
		zap.Strings("rules", rules),
		zap.String("client_ip", clientIP),
		zap.String("path", r.URL.Path),
	}
	if a.Decision == risk.Review {
		g.logger.Info("risk review", fields...)
		return a
	}
	g.logger.Warn("risk "+a.Decision.String(), fields...)

	event := AuditRiskChallenge
	if a.Decision == risk.Block {
		event = AuditRiskBlock
	}
	g.emitAudit(r.Context(), AuditEvent{
		EventType: event,
		IP:        clientIP,
		Path:      r.URL.Path,
		Reason:    strconv.Itoa(a.Score),
	})
	return a
}

/*
====================================
CSRF
====================================
*/

// IssueCSRF creates a fresh anti-forgery token bound to sessionKey.
func (g *Gate) IssueCSRF(ctx context.Context, sessionKey string) (string, error) {
	token, err := g.csrf.Generate(ctx, sessionKey)
	if err != nil {
		return "", err
	}
	g.metrics.Inc(MetricCSRFIssued)
	return token, nil
}

// ValidateCSRF checks token against sessionKey's stored token, consuming it
// when tokens are single-use.
func (g *Gate) ValidateCSRF(ctx context.Context, token, sessionKey string) (bool, error) {
	ok, err := g.csrf.Validate(ctx, token, sessionKey)
	if ok {
		g.metrics.Inc(MetricCSRFValid)
		return true, nil
	}
	g.metrics.Inc(MetricCSRFRejected)
	g.emitAudit(ctx, AuditEvent{EventType: AuditCSRFRejected})
	return false, err
}

// RevokeCSRF removes sessionKey's token.
func (g *Gate) RevokeCSRF(ctx context.Context, sessionKey string) error {
	return g.csrf.Revoke(ctx, sessionKey)
}

// CSRFHeader is the request header the token must arrive in.
func (g *Gate) CSRFHeader() string { return csrf.HeaderName }
