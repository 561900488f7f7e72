package middleware

import (
	"errors"
	"net/http"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/csrf"
	"go.uber.org/zap"
)

// SessionKeyFunc names the session a CSRF token is bound to. An empty
// result rejects the request.
type SessionKeyFunc func(r *http.Request) string

// SessionBySubject binds CSRF tokens to the authenticated subject.
func SessionBySubject(r *http.Request) string {
	if id, ok := shopGuard.IdentityFromContext(r.Context()); ok {
		return id.Subject
	}
	return ""
}

// CSRF protects state-changing methods with a double-submit token. The
// X-CSRF-Token header must equal the CSRF cookie and match the token stored
// for the session. Safe methods pass untouched.
func CSRF(gate *shopGuard.Gate, sessionKey SessionKeyFunc) func(http.Handler) http.Handler {
	if sessionKey == nil {
		sessionKey = SessionBySubject
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(gate.CSRFHeader())
			var cookie string
			if c, err := r.Cookie(gate.Cookies().CSRFName); err == nil {
				cookie = c.Value
			}
			session := sessionKey(r)

			reason := ""
			switch {
			case header == "" || cookie == "":
				reason = "missing"
			case !csrf.TokensMatch(header, cookie):
				reason = "double_submit_mismatch"
			case session == "":
				reason = "no_session"
			}
			if reason != "" {
				reject(w, r, gate, reason)
				return
			}

			ok, err := gate.ValidateCSRF(r.Context(), header, session)
			if errors.Is(err, csrf.ErrStoreUnavailable) {
				gate.Logger().Error("csrf store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, msgUnavailable)
				return
			}
			if !ok {
				reject(w, r, gate, "not_recognised")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, gate *shopGuard.Gate, reason string) {
	gate.Logger().Warn("csrf rejected",
		zap.String("reason", reason),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("client_ip", shopGuard.ClientIPFromContext(r.Context())),
	)
	writeError(w, http.StatusForbidden, msgBadCSRF)
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
