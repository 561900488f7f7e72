package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/metrics/export/prometheus"
	"github.com/MrEthical07/shopGuard/middleware"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/MrEthical07/shopGuard/risk"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

type api struct {
	gate   *shopGuard.Gate
	users  *directory
	logger *zap.Logger
}

// newRouter wires the full pipeline:
// client IP, authentication, rate limit, risk, CSRF, handler.
func newRouter(gate *shopGuard.Gate, users *directory, logger *zap.Logger) http.Handler {
	a := &api{gate: gate, users: users, logger: logger}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ResolveClientIP(gate))
	r.Use(accessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", prometheus.NewExporter(gate).Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(gate, gate.AuthPolicy(), middleware.KeyByClientIP))
		r.With(middleware.RiskGate(gate)).Post("/login", a.login)
		r.Post("/refresh", a.refresh)
		r.With(
			middleware.Authenticate(gate),
			middleware.CSRF(gate, middleware.SessionBySubject),
		).Post("/logout", a.logout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Authenticate(gate))
		r.Use(middleware.RateLimit(gate, gate.APIPolicy(), middleware.KeyBySubject))
		r.Use(middleware.CSRF(gate, middleware.SessionBySubject))

		r.Get("/me", a.me)
		r.Get("/csrf", a.csrfToken)
		r.With(middleware.RiskGate(gate)).Post("/checkout", a.checkout)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireLevel(gate, shopGuard.LevelElevated))
			r.Get("/limits/{policy}/{client}", a.limitStatus)
			r.Delete("/limits/{policy}/{client}", a.limitReset)
			r.Put("/users/{id}/role", a.setRole)
		})
	})

	return r
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	acct, err := a.users.authenticate(body.Email, body.Password)
	if err != nil {
		// Counted against the auth policy; successes are refunded.
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	pair, err := a.gate.IssueTokenPair(r.Context(), acct.id, acct.role)
	if err != nil {
		a.internalError(w, r, "issue tokens", err)
		return
	}
	a.startSession(w, r, acct.id, pair)
}

func (a *api) refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(a.gate.Cookies().RefreshTokenName); err == nil {
		token = c.Value
	}
	pair, err := a.gate.Refresh(r.Context(), token)
	if err != nil {
		var ae *shopGuard.AuthError
		if errors.As(err, &ae) && ae.Kind != shopGuard.KindConfig {
			middleware.ClearAuthCookies(w, a.gate)
			writeError(w, http.StatusUnauthorized, ae.PublicMessage())
			return
		}
		a.internalError(w, r, "refresh", err)
		return
	}
	id, err := a.gate.Verify(pair.AccessToken)
	if err != nil {
		a.internalError(w, r, "verify refreshed token", err)
		return
	}
	a.startSession(w, r, id.Subject, pair)
}

// startSession sets the token cookies and a fresh CSRF token bound to subject.
func (a *api) startSession(w http.ResponseWriter, r *http.Request, subject string, pair *shopGuard.TokenPair) {
	csrfToken, err := a.gate.IssueCSRF(r.Context(), subject)
	if err != nil {
		a.unavailable(w, r, "issue csrf", err)
		return
	}
	middleware.SetAccessCookie(w, a.gate, pair.AccessToken, pair.AccessExpiresAt)
	middleware.SetRefreshCookie(w, a.gate, pair.RefreshToken, pair.RefreshExpiresAt)
	middleware.SetCSRFCookie(w, a.gate, csrfToken)
	writeJSON(w, http.StatusOK, map[string]any{
		"csrfToken":       csrfToken,
		"accessExpiresAt": pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := shopGuard.IdentityFromContext(r.Context())
	if err := a.gate.RevokeCSRF(r.Context(), id.Subject); err != nil {
		a.logger.Warn("revoke csrf failed", zap.String("subject", id.Subject), zap.Error(err))
	}
	middleware.ClearAuthCookies(w, a.gate)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	id, _ := shopGuard.IdentityFromContext(r.Context())
	acct, ok := a.users.lookup(id.Subject)
	if !ok {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	addr, err := a.users.shippingAddress(acct)
	if err != nil {
		a.internalError(w, r, "open address", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              acct.id,
		"email":           acct.email,
		"role":            id.Role,
		"level":           id.Level,
		"shippingAddress": addr,
	})
}

// csrfToken rotates the caller's CSRF token, e.g. after a page reload.
func (a *api) csrfToken(w http.ResponseWriter, r *http.Request) {
	id, _ := shopGuard.IdentityFromContext(r.Context())
	token, err := a.gate.IssueCSRF(r.Context(), id.Subject)
	if err != nil {
		a.unavailable(w, r, "issue csrf", err)
		return
	}
	middleware.SetCSRFCookie(w, a.gate, token)
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (a *api) checkout(w http.ResponseWriter, r *http.Request) {
	id, _ := shopGuard.IdentityFromContext(r.Context())
	resp := map[string]any{
		"orderId": uuid.NewString(),
		"status":  "accepted",
	}
	if assessment, ok := middleware.RiskFromContext(r.Context()); ok {
		resp["riskScore"] = assessment.Score
		if assessment.Decision >= risk.Review {
			resp["status"] = "pending_review"
		}
	}
	a.logger.Info("checkout accepted", zap.String("subject", id.Subject), zap.Any("status", resp["status"]))
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *api) policy(name string) (ratelimit.Policy, bool) {
	switch name {
	case "api":
		return a.gate.APIPolicy(), true
	case "auth":
		return a.gate.AuthPolicy(), true
	}
	return ratelimit.Policy{}, false
}

func (a *api) limitStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := a.policy(chi.URLParam(r, "policy"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown policy")
		return
	}
	d, err := a.gate.RateLimitStatus(r.Context(), p, chi.URLParam(r, "client"))
	if err != nil {
		a.unavailable(w, r, "rate limit status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policy":    p.Name,
		"limit":     d.Limit,
		"count":     d.Count,
		"remaining": d.Remaining,
		"resetAt":   d.ResetAt.UTC().Format(time.RFC3339),
	})
}

func (a *api) limitReset(w http.ResponseWriter, r *http.Request) {
	p, ok := a.policy(chi.URLParam(r, "policy"))
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown policy")
		return
	}
	if err := a.gate.ResetRateLimit(r.Context(), p, chi.URLParam(r, "client")); err != nil {
		a.unavailable(w, r, "rate limit reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil || body.Role == "" {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if !a.users.setRole(chi.URLParam(r, "id"), body.Role) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	a.logger.Error(op+" failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (a *api) unavailable(w http.ResponseWriter, r *http.Request, op string, err error) {
	a.logger.Error(op+" failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("request_id", w.Header().Get(requestIDHeader)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("client_ip", shopGuard.ClientIPFromContext(r.Context())),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
