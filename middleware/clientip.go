package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	shopGuard "github.com/MrEthical07/shopGuard"
)

// ClientIP returns the caller's address. Forwarding headers are only read
// when trustProxy is set, since any client can send them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
				return ip.Unmap().String()
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			if ip, err := netip.ParseAddr(xr); err == nil {
				return ip.Unmap().String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap().String()
	}
	return host
}

// ResolveClientIP attaches the caller's address to the request context so
// later middleware logs and keys on the same value.
func ResolveClientIP(gate *shopGuard.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, gate.TrustProxy())
			next.ServeHTTP(w, r.WithContext(shopGuard.WithClientIP(r.Context(), ip)))
		})
	}
}

// KeyFunc picks the client identifier a rate-limit policy counts against.
type KeyFunc func(gate *shopGuard.Gate, r *http.Request) string

// KeyByClientIP counts per address.
func KeyByClientIP(gate *shopGuard.Gate, r *http.Request) string {
	if ip := shopGuard.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return ClientIP(r, gate.TrustProxy())
}

// KeyBySubject counts per authenticated subject, falling back to the address
// for anonymous requests.
func KeyBySubject(gate *shopGuard.Gate, r *http.Request) string {
	if id, ok := shopGuard.IdentityFromContext(r.Context()); ok {
		return "sub:" + id.Subject
	}
	return KeyByClientIP(gate, r)
}
