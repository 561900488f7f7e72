package middleware

import (
	"net/http"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
)

// SetAccessCookie stores the access token in an HttpOnly cookie.
func SetAccessCookie(w http.ResponseWriter, gate *shopGuard.Gate, token string, expires time.Time) {
	cfg := gate.Cookies()
	http.SetCookie(w, newCookie(cfg, cfg.AccessTokenName, token, expires, true))
}

// SetRefreshCookie stores the refresh token in an HttpOnly cookie.
func SetRefreshCookie(w http.ResponseWriter, gate *shopGuard.Gate, token string, expires time.Time) {
	cfg := gate.Cookies()
	http.SetCookie(w, newCookie(cfg, cfg.RefreshTokenName, token, expires, true))
}

// SetCSRFCookie stores the CSRF token where page scripts can read it and
// echo it in the X-CSRF-Token header.
func SetCSRFCookie(w http.ResponseWriter, gate *shopGuard.Gate, token string) {
	cfg := gate.Cookies()
	http.SetCookie(w, newCookie(cfg, cfg.CSRFName, token, gate.Now().Add(gate.CSRFTTL()), false))
}

// ClearAuthCookies expires the access, refresh and CSRF cookies.
func ClearAuthCookies(w http.ResponseWriter, gate *shopGuard.Gate) {
	cfg := gate.Cookies()
	for _, name := range []string{cfg.AccessTokenName, cfg.RefreshTokenName, cfg.CSRFName} {
		c := newCookie(cfg, name, "", time.Unix(0, 0), name != cfg.CSRFName)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func newCookie(cfg shopGuard.CookieConfig, name, value string, expires time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expires,
		Secure:   cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: cfg.SameSiteMode(),
	}
}
