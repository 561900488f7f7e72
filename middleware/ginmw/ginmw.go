// Package ginmw exposes the shopGuard middleware as gin handlers.
package ginmw

import (
	"errors"
	"net/http"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/middleware"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Wrap runs a net/http middleware inside gin. When the middleware does not
// call its next handler the chain is aborted; when it does, the possibly
// enriched request replaces c.Request.
func Wrap(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		called := false
		mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			called = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !called {
			c.Abort()
		}
	}
}

// ClientIP attaches the caller's address for the handlers that follow.
func ClientIP(gate *shopGuard.Gate) gin.HandlerFunc {
	return Wrap(middleware.ResolveClientIP(gate))
}

func Authenticate(gate *shopGuard.Gate) gin.HandlerFunc {
	return Wrap(middleware.Authenticate(gate))
}

func RiskGate(gate *shopGuard.Gate) gin.HandlerFunc {
	return Wrap(middleware.RiskGate(gate))
}

func CSRF(gate *shopGuard.Gate, sessionKey middleware.SessionKeyFunc) gin.HandlerFunc {
	return Wrap(middleware.CSRF(gate, sessionKey))
}

// RateLimit mirrors middleware.RateLimit. It reads the final status from
// gin's writer so skip-successful refunds see what the handler wrote.
func RateLimit(gate *shopGuard.Gate, policy ratelimit.Policy, keyFunc middleware.KeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = middleware.KeyByClientIP
	}
	return func(c *gin.Context) {
		client := keyFunc(gate, c.Request)
		d, err := gate.CheckRateLimit(c.Request.Context(), policy, client)
		middleware.SetRateLimitHeaders(c.Writer.Header(), d)
		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, middleware.RateLimited(c.Writer.Header(), d, gate.Now()))
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
			return
		}

		c.Next()

		if policy.SkipSuccessful && c.Writer.Status() < http.StatusBadRequest {
			if err := gate.RefundRateLimit(c.Request.Context(), policy, client, d); err != nil {
				gate.Logger().Warn("rate limit refund failed", zap.String("policy", policy.Name), zap.Error(err))
			}
		}
	}
}

// Identity returns the authenticated caller, if any.
func Identity(c *gin.Context) (*shopGuard.Identity, bool) {
	return shopGuard.IdentityFromContext(c.Request.Context())
}
