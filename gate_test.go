package shopGuard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestRedis(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte(testSecret)
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.JWT.Issuer = "shop"
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func buildTestGate(t *testing.T, cfg Config, configure func(*Builder)) (*Gate, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	b := New().WithConfig(cfg).WithRedis(rdb)
	if configure != nil {
		configure(b)
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g, mr
}

func TestGateIssueVerifyRoundTrip(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)

	token, err := g.IssueAccessToken("user-42", "customer")
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	id, err := g.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Subject != "user-42" || id.Role != "customer" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.Level != LevelStandard {
		t.Fatalf("expected standard level, got %d", id.Level)
	}
	if id.TokenID == "" {
		t.Fatal("expected jti to be populated")
	}

	admin, err := g.IssueAccessToken("ops-1", "admin")
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	id, err = g.Verify(admin)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Level != LevelElevated || !id.HasRole("admin") {
		t.Fatalf("expected elevated admin identity, got %+v", id)
	}
}

func TestGateVerifyFailureKinds(t *testing.T) {
	clock := newTestClock()
	g, _ := buildTestGate(t, testConfig(), func(b *Builder) { b.WithClock(clock.Now) })

	access, err := g.IssueAccessToken("user-1", "customer")
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	refresh, err := g.IssueRefreshToken("user-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}

	other := testConfig()
	other.JWT.Secret = []byte("another-secret-another-secret-xx")
	foreign, _ := buildTestGate(t, other, func(b *Builder) { b.WithClock(clock.Now) })
	forged, err := foreign.IssueAccessToken("user-1", "admin")
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}

	tests := []struct {
		name  string
		token string
		want  Kind
	}{
		{"empty", "", KindMissing},
		{"garbage", "not-a-jwt", KindMalformed},
		{"wrong key", forged, KindInvalidSignature},
		{"refresh used as access", refresh, KindInvalidClaims},
		{"tampered payload", access[:len(access)-4] + "AAAA", KindInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Verify(tt.token)
			if got := KindOf(err); got != tt.want {
				t.Fatalf("expected kind %s, got %s (%v)", tt.want, got, err)
			}
			var ae *AuthError
			if !errors.As(err, &ae) || ae.PublicMessage() != "Authentication required" {
				t.Fatalf("expected generic public message, got %v", err)
			}
		})
	}

	clock.Advance(16 * time.Minute)
	if _, err := g.Verify(access); KindOf(err) != KindExpired {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestGateExpiredTokenIsErrTokenExpired(t *testing.T) {
	clock := newTestClock()
	g, _ := buildTestGate(t, testConfig(), func(b *Builder) { b.WithClock(clock.Now) })

	token, err := g.IssueAccessToken("user-1", "customer")
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	clock.Advance(15*time.Minute + time.Second)

	_, err = g.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if g.MetricsSnapshot().Counters[MetricAuthExpired] != 1 {
		t.Fatal("expected expired counter to increment")
	}
}

func TestAuthenticateRequestPrefersCookie(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)

	cookieToken, _ := g.IssueAccessToken("from-cookie", "customer")
	headerToken, _ := g.IssueAccessToken("from-header", "customer")

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: cookieToken})
	req.Header.Set("Authorization", "Bearer "+headerToken)

	out, id, err := g.AuthenticateRequest(req)
	if err != nil {
		t.Fatalf("AuthenticateRequest failed: %v", err)
	}
	if id.Subject != "from-cookie" {
		t.Fatalf("expected cookie identity, got %q", id.Subject)
	}
	ctxID, ok := IdentityFromContext(out.Context())
	if !ok || ctxID.Subject != "from-cookie" {
		t.Fatal("expected identity attached to request context")
	}

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "bearer "+headerToken)
	if _, id, err = g.AuthenticateRequest(req); err != nil || id.Subject != "from-header" {
		t.Fatalf("expected header identity, got %v %v", id, err)
	}
}

func TestAuthenticateRequestBadCookieDoesNotFallBackToHeader(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)

	headerToken, _ := g.IssueAccessToken("from-header", "customer")
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "garbage"})
	req.Header.Set("Authorization", "Bearer "+headerToken)

	if _, _, err := g.AuthenticateRequest(req); KindOf(err) != KindMalformed {
		t.Fatalf("expected malformed cookie to fail, got %v", err)
	}
}

func TestAuthenticateRequestMissingAndAudited(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 8
	sink := NewChannelSink(8)
	g, _ := buildTestGate(t, cfg, func(b *Builder) { b.WithAuditSink(sink) })

	req := httptest.NewRequest(http.MethodGet, "/account", nil)
	req = req.WithContext(WithClientIP(req.Context(), "198.51.100.7"))
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if g.HasCredentials(req) {
		t.Fatal("basic auth must not count as credentials")
	}
	if _, _, err := g.AuthenticateRequest(req); KindOf(err) != KindMissing {
		t.Fatalf("expected missing, got %v", err)
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != AuditAuthFailure || ev.Reason != "missing" || ev.IP != "198.51.100.7" {
			t.Fatalf("unexpected audit event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected auth failure audit event")
	}
}

func TestGateRefresh(t *testing.T) {
	roles := map[string]string{"user-1": "customer", "ops-1": "admin"}
	provider := RoleProviderFunc(func(_ context.Context, subject string) (string, error) {
		role, ok := roles[subject]
		if !ok {
			return "", ErrUnknownSubject
		}
		return role, nil
	})
	g, _ := buildTestGate(t, testConfig(), func(b *Builder) { b.WithRoleProvider(provider) })

	pair, err := g.IssueTokenPair(context.Background(), "user-1", "customer")
	if err != nil {
		t.Fatalf("IssueTokenPair failed: %v", err)
	}

	roles["user-1"] = "admin"
	next, err := g.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	id, err := g.Verify(next.AccessToken)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.Role != "admin" || id.Level != LevelElevated {
		t.Fatalf("expected refreshed role to come from provider, got %+v", id)
	}

	if _, err := g.Refresh(context.Background(), pair.AccessToken); KindOf(err) != KindInvalidClaims {
		t.Fatalf("expected access token to be rejected as refresh, got %v", err)
	}

	delete(roles, "user-1")
	if _, err := g.Refresh(context.Background(), pair.RefreshToken); KindOf(err) != KindInvalidClaims {
		t.Fatalf("expected unknown subject to fail, got %v", err)
	}
	if _, err := g.Refresh(context.Background(), ""); KindOf(err) != KindMissing {
		t.Fatalf("expected missing, got %v", err)
	}
}

func TestGateRefreshWithoutRoleProvider(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)

	refresh, _ := g.IssueRefreshToken("user-1")
	_, err := g.Refresh(context.Background(), refresh)
	if KindOf(err) != KindConfig || !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestGateRateLimitAuthPolicyFailsClosed(t *testing.T) {
	g, mr := buildTestGate(t, testConfig(), nil)
	ctx := context.Background()
	policy := g.AuthPolicy()

	for i := 0; i < policy.Max; i++ {
		if _, err := g.CheckRateLimit(ctx, policy, "203.0.113.9"); err != nil {
			t.Fatalf("attempt %d denied: %v", i+1, err)
		}
	}
	d, err := g.CheckRateLimit(ctx, policy, "203.0.113.9")
	if !errors.Is(err, ratelimit.ErrRateLimited) || d.Allowed {
		t.Fatalf("expected rate limited, got %+v %v", d, err)
	}
	if err := g.ResetRateLimit(ctx, policy, "203.0.113.9"); err != nil {
		t.Fatalf("ResetRateLimit failed: %v", err)
	}

	mr.Close()
	if _, err := g.CheckRateLimit(ctx, policy, "203.0.113.9"); !errors.Is(err, ratelimit.ErrStoreUnavailable) {
		t.Fatalf("expected auth policy to fail closed, got %v", err)
	}
	d, err = g.CheckRateLimit(ctx, g.APIPolicy(), "203.0.113.9")
	if err != nil || !d.Degraded {
		t.Fatalf("expected api policy to fail open, got %+v %v", d, err)
	}

	snap := g.MetricsSnapshot()
	if snap.Counters[MetricRateLimitDenied] != 1 || snap.Counters[MetricRateLimitStoreDown] != 1 || snap.Counters[MetricRateLimitDegraded] != 1 {
		t.Fatalf("unexpected rate limit counters %+v", snap.Counters)
	}
}

func TestGateCSRFSingleUse(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)
	ctx := context.Background()

	token, err := g.IssueCSRF(ctx, "session-1")
	if err != nil {
		t.Fatalf("IssueCSRF failed: %v", err)
	}
	if ok, err := g.ValidateCSRF(ctx, token, "session-2"); ok || err != nil {
		t.Fatalf("expected other session to be rejected, got %v %v", ok, err)
	}
	if ok, err := g.ValidateCSRF(ctx, token, "session-1"); !ok || err != nil {
		t.Fatalf("expected first use to pass, got %v %v", ok, err)
	}
	if ok, _ := g.ValidateCSRF(ctx, token, "session-1"); ok {
		t.Fatal("expected replay to be rejected")
	}
	if g.CSRFHeader() != "X-CSRF-Token" {
		t.Fatalf("unexpected header %q", g.CSRFHeader())
	}
}

func TestGateAssessHTTP(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.RelayAddresses = []string{"185.220.101.1"}
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 8
	sink := NewChannelSink(8)
	geo, err := risk.NewStaticGeoResolver(map[string]string{"81.2.69.0/24": "GB"})
	if err != nil {
		t.Fatalf("NewStaticGeoResolver failed: %v", err)
	}
	g, _ := buildTestGate(t, cfg, func(b *Builder) {
		b.WithGeoResolver(geo).WithAuditSink(sink)
	})

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	req.Header.Set("X-Device-Fingerprint", "fp-0123456789")

	a := g.AssessHTTP(req, "81.2.69.142")
	if a.Decision != risk.Allow || a.Score != 0 {
		t.Fatalf("expected clean request to be allowed, got %+v", a)
	}

	a = g.AssessHTTP(req, "185.220.101.1")
	if a.Decision != risk.Block {
		t.Fatalf("expected relay without geo to be blocked, got %+v", a)
	}
	select {
	case ev := <-sink.Events():
		if ev.EventType != AuditRiskBlock || ev.IP != "185.220.101.1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected risk block audit event")
	}

	snap := g.MetricsSnapshot()
	if snap.Counters[MetricRiskAllow] != 1 || snap.Counters[MetricRiskBlock] != 1 {
		t.Fatalf("unexpected risk counters %+v", snap.Counters)
	}
}

func TestGatePasswords(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)

	hash, err := g.HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %q", hash)
	}
	ok, rehash, err := g.VerifyPassword("correct horse battery", hash)
	if err != nil || !ok || rehash {
		t.Fatalf("expected verified without rehash, got ok=%v rehash=%v err=%v", ok, rehash, err)
	}
	if ok, _, _ := g.VerifyPassword("wrong", hash); ok {
		t.Fatal("expected wrong password to fail")
	}
}

func TestGateFieldCrypto(t *testing.T) {
	g, _ := buildTestGate(t, testConfig(), nil)
	if _, err := g.Seal("221B Baker Street"); !errors.Is(err, ErrCryptoDisabled) {
		t.Fatalf("expected crypto disabled, got %v", err)
	}

	cfg := testConfig()
	cfg.Crypto.MasterKey = []byte("master-key-master-key-master-key")
	g, _ = buildTestGate(t, cfg, nil)

	sealed, err := g.Seal("221B Baker Street")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if strings.Contains(sealed, "Baker") {
		t.Fatal("sealed value leaks plaintext")
	}
	plain, err := g.Open(sealed)
	if err != nil || plain != "221B Baker Street" {
		t.Fatalf("Open returned %q, %v", plain, err)
	}

	a, _ := g.BlindIndex("alice@example.com")
	b, _ := g.BlindIndex("alice@example.com")
	if a == "" || a != b {
		t.Fatal("expected deterministic blind index")
	}
}

func TestBuilderFailures(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).Build(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected missing redis to fail, got %v", err)
	}

	noSecret := testConfig()
	noSecret.JWT.Secret = nil
	if _, err := New().WithConfig(noSecret).WithRedis(rdb).Build(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected missing secret to fail, got %v", err)
	}

	badRelay := testConfig()
	badRelay.Risk.RelayAddresses = []string{"not-an-ip"}
	if _, err := New().WithConfig(badRelay).WithRedis(rdb).Build(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected bad relay to fail, got %v", err)
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb)
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer g.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected reused builder to fail, got %v", err)
	}
}

func TestGateCloseIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	g, _ := buildTestGate(t, cfg, nil)

	if err := g.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
