package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

type testServer struct {
	*httptest.Server
	client *http.Client
	users  *directory
	gate   *shopGuard.Gate
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := shopGuard.DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = 15 * time.Minute
	cfg.JWT.RefreshTTL = 7 * 24 * time.Hour
	cfg.Cookie.Secure = false
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Crypto.MasterKey = []byte("an-example-master-key-of-32-byte")

	geo, err := localGeo("GB")
	require.NoError(t, err)

	users := newDirectory()
	gate, err := shopGuard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithGeoResolver(geo).
		WithRoleProvider(users).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = gate.Close() })
	users.gate = gate
	require.NoError(t, seedAccounts(users, zap.NewNop()))

	srv := httptest.NewServer(newRouter(gate, users, zap.NewNop()))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{Server: srv, client: &http.Client{Jar: jar}, users: users, gate: gate}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("User-Agent", firefoxUA)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+password+`"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.CSRFToken)
	return body.CSRFToken
}

func TestLoginThenMe(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "Alice@Example.com", "correct-horse")

	resp := s.do(t, http.MethodGet, "/api/me", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "customer", me["role"])
	assert.Equal(t, "1 Market Street, Springfield", me["shippingAddress"])
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}

func TestMeRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckoutNeedsCSRFToken(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice@example.com", "correct-horse")

	resp := s.do(t, http.MethodPost, "/api/checkout", `{}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The rejected attempt above did not consume the token.
	resp = s.do(t, http.MethodPost, "/api/checkout", `{}`, map[string]string{"X-CSRF-Token": token})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Single use.
	resp = s.do(t, http.MethodPost, "/api/checkout", `{}`, map[string]string{"X-CSRF-Token": token})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestFailedLoginsAreRateLimited(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 5; i++ {
		resp := s.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"nope"}`, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
	}
	resp := s.do(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestSuccessfulLoginsAreNotCounted(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 8; i++ {
		s.login(t, "alice@example.com", "correct-horse")
	}
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "alice@example.com", "correct-horse")

	resp := s.do(t, http.MethodGet, "/api/admin/limits/auth/127.0.0.1", "", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	id, _ := s.gate.Verify(cookieValue(t, s, s.gate.Cookies().AccessTokenName))
	require.NotNil(t, id)
	require.True(t, s.users.setRole(id.Subject, "admin"))

	resp = s.do(t, http.MethodPost, "/auth/refresh", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/admin/limits/auth/127.0.0.1", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutClearsCookies(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "alice@example.com", "correct-horse")

	resp := s.do(t, http.MethodPost, "/auth/logout", "", map[string]string{"X-CSRF-Token": token})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "alice@example.com", "correct-horse")

	resp := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "shopguard_token_issued_total 2")
}

func cookieValue(t *testing.T, s *testServer, name string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL, nil)
	require.NoError(t, err)
	for _, c := range s.client.Jar.Cookies(req.URL) {
		if c.Name == name {
			return c.Value
		}
	}
	t.Fatalf("cookie %s not set", name)
	return ""
}
