package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newGate(t *testing.T, mutate func(*shopGuard.Config)) (*shopGuard.Gate, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := shopGuard.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Risk.RelayAddresses = []string{"185.220.101.1"}
	if mutate != nil {
		mutate(&cfg)
	}

	geo, err := risk.NewStaticGeoResolver(map[string]string{"81.2.69.0/24": "GB"})
	require.NoError(t, err)

	g, err := shopGuard.New().WithConfig(cfg).WithRedis(rdb).WithGeoResolver(geo).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g, mr
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthenticate(t *testing.T) {
	g, _ := newGate(t, nil)

	var seen *shopGuard.Identity
	h := Authenticate(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shopGuard.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", decodeError(t, rec).Error)

	token, err := g.IssueAccessToken("user-1", "customer")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.Subject)

	req = httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "signature")
}

func TestOptionalAuthenticate(t *testing.T) {
	g, _ := newGate(t, nil)
	h := OptionalAuthenticate(g)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shopGuard.IdentityFromContext(r.Context()); ok {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	token, _ := g.IssueAccessToken("user-1", "customer")
	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/catalog", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "stale"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRoleAndLevel(t *testing.T) {
	g, _ := newGate(t, nil)
	customer, _ := g.IssueAccessToken("user-1", "customer")
	admin, _ := g.IssueAccessToken("ops-1", "admin")

	tests := []struct {
		name  string
		mw    func(http.Handler) http.Handler
		token string
		want  int
	}{
		{"role allowed", RequireRole(g, "admin", "support"), admin, http.StatusOK},
		{"role denied", RequireRole(g, "admin"), customer, http.StatusForbidden},
		{"level allowed", RequireLevel(g, shopGuard.LevelElevated), admin, http.StatusOK},
		{"level denied", RequireLevel(g, shopGuard.LevelElevated), customer, http.StatusForbidden},
		{"standard level", RequireLevel(g, shopGuard.LevelStandard), customer, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			chain(okHandler, Authenticate(g), tt.mw).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	RequireRole(g, "admin")(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	g, _ := newGate(t, nil)
	policy := ratelimit.Policy{Name: "browse", Window: time.Minute, Max: 2, FailureMode: ratelimit.FailOpen}
	h := chain(okHandler, ResolveClientIP(g), RateLimit(g, policy, nil))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body RateLimitedBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Too many requests", body.Error)
	assert.Greater(t, body.RetryAfter, int64(0))
	assert.LessOrEqual(t, body.RetryAfter, int64(60))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// A different address has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	req.RemoteAddr = "198.51.100.20:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRetryAfterSecondsNeverBelowOne(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(1), RetryAfterSeconds(ratelimit.Decision{ResetAt: now}, now))
	assert.Equal(t, int64(1), RetryAfterSeconds(ratelimit.Decision{ResetAt: now.Add(-time.Second)}, now))
	assert.Equal(t, int64(1), RetryAfterSeconds(ratelimit.Decision{}, now))
	assert.Equal(t, int64(1), RetryAfterSeconds(ratelimit.Decision{ResetAt: now.Add(10 * time.Millisecond)}, now))
	assert.Equal(t, int64(3), RetryAfterSeconds(ratelimit.Decision{ResetAt: now.Add(2500 * time.Millisecond)}, now))
}

func TestRateLimitAtWindowEdgeKeepsRetryAfter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := shopGuard.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour

	// Every reading moves two minutes on, so the denial is answered after
	// its own window has closed.
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(2 * time.Minute)
		return now
	}
	g, err := shopGuard.New().WithConfig(cfg).WithRedis(rdb).WithClock(clock).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	policy := ratelimit.Policy{Name: "edge", Window: time.Minute, Max: 1, FailureMode: ratelimit.FailClosed}
	h := RateLimit(g, policy, KeyByClientIP)(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Contains(t, raw, "retryAfter")
	assert.EqualValues(t, 1, raw["retryAfter"])
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimitSkipSuccessfulCountsOnlyFailures(t *testing.T) {
	g, _ := newGate(t, nil)
	policy := g.AuthPolicy()

	status := http.StatusOK
	login := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) })
	h := RateLimit(g, policy, KeyByClientIP)(login)

	for i := 0; i < policy.Max*2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code, "successful login %d", i+1)
	}

	status = http.StatusUnauthorized
	for i := 0; i < policy.Max; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitFailClosedReturns503(t *testing.T) {
	g, mr := newGate(t, nil)
	mr.Close()

	rec := httptest.NewRecorder()
	RateLimit(g, g.AuthPolicy(), nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	RateLimit(g, g.APIPolicy(), nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func riskRequest(ip, ua string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.RemoteAddr = ip + ":5555"
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.8")
	req.Header.Set(risk.DefaultFingerprintHeader, "fp-7f3a9c2e11d4")
	return req
}

func TestRiskGate(t *testing.T) {
	g, _ := newGate(t, nil)

	var got risk.Assessment
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RiskFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), ResolveClientIP(g), RiskGate(g))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, riskRequest("81.2.69.10", chromeUA))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, risk.Allow, got.Decision)
	assert.Equal(t, "GB", got.Country)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, riskRequest("185.220.101.1", chromeUA))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, riskRequest("10.9.8.7", "curl/8.4.0"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "required", rec.Header().Get(ChallengeHeader))

	req := riskRequest("10.9.8.7", "curl/8.4.0")
	req = req.WithContext(WithChallengePassed(req.Context()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, risk.Challenge, got.Decision)

	req = riskRequest("185.220.101.1", chromeUA)
	req = req.WithContext(WithChallengePassed(req.Context()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "block is never overridden")
}

func csrfRequest(method, header, cookie string) *http.Request {
	req := httptest.NewRequest(method, "/cart", strings.NewReader("{}"))
	if header != "" {
		req.Header.Set("X-CSRF-Token", header)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: cookie})
	}
	return req
}

func TestCSRF(t *testing.T) {
	g, _ := newGate(t, nil)
	session := func(*http.Request) string { return "session-1" }
	h := CSRF(g, session)(okHandler)

	token, err := g.IssueCSRF(context.Background(), "session-1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"safe method exempt", csrfRequest(http.MethodGet, "", ""), http.StatusOK},
		{"missing header", csrfRequest(http.MethodPost, "", token), http.StatusForbidden},
		{"missing cookie", csrfRequest(http.MethodPost, token, ""), http.StatusForbidden},
		{"double submit mismatch", csrfRequest(http.MethodPost, token, token+"x"), http.StatusForbidden},
		{"unknown token", csrfRequest(http.MethodDelete, "forged", "forged"), http.StatusForbidden},
		{"valid", csrfRequest(http.MethodPost, token, token), http.StatusOK},
		{"replay", csrfRequest(http.MethodPost, token, token), http.StatusForbidden},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, tt.req)
		assert.Equal(t, tt.status, rec.Code, tt.name)
		if tt.status == http.StatusForbidden {
			assert.Equal(t, "Invalid CSRF token", decodeError(t, rec).Error, tt.name)
		}
	}
}

func TestCSRFRequiresSession(t *testing.T) {
	g, _ := newGate(t, nil)
	token, err := g.IssueCSRF(context.Background(), "session-1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	CSRF(g, nil)(okHandler).ServeHTTP(rec, csrfRequest(http.MethodPost, token, token))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.Header.Set("X-Real-IP", "203.0.113.6")

	assert.Equal(t, "192.0.2.10", ClientIP(req, false))
	assert.Equal(t, "203.0.113.5", ClientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "203.0.113.6", ClientIP(req, true))

	req.Header.Set("X-Forwarded-For", "not-an-ip")
	req.Header.Del("X-Real-IP")
	assert.Equal(t, "192.0.2.10", ClientIP(req, true))

	req.RemoteAddr = "[::ffff:198.51.100.4]:80"
	assert.Equal(t, "198.51.100.4", ClientIP(req, false))
}

func TestKeyBySubject(t *testing.T) {
	g, _ := newGate(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "192.0.2.1", KeyBySubject(g, req))

	req = req.WithContext(shopGuard.WithIdentity(req.Context(), &shopGuard.Identity{Subject: "u-9", Role: "customer"}))
	assert.Equal(t, "sub:u-9", KeyBySubject(g, req))
}

func TestCookies(t *testing.T) {
	g, _ := newGate(t, nil)

	rec := httptest.NewRecorder()
	SetAccessCookie(rec, g, "access", time.Now().Add(time.Minute))
	SetCSRFCookie(rec, g, "csrf")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
	assert.False(t, cookies[1].HttpOnly, "scripts must read the csrf cookie")

	rec = httptest.NewRecorder()
	ClearAuthCookies(rec, g)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 3)
	for _, c := range cleared {
		assert.Equal(t, -1, c.MaxAge, c.Name)
		assert.Empty(t, c.Value)
	}
}
