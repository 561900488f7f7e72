package middleware

import (
	"context"
	"net/http"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/risk"
)

type riskContextKey struct{}
type challengeContextKey struct{}

// ChallengeHeader is set on 401 responses that want a step-up challenge.
const ChallengeHeader = "X-Risk-Challenge"

// WithChallengePassed marks ctx as having completed a step-up challenge
// (captcha, OTP) so RiskGate lets Challenge decisions through. Block is
// never overridden.
func WithChallengePassed(ctx context.Context) context.Context {
	return context.WithValue(ctx, challengeContextKey{}, true)
}

func challengePassed(ctx context.Context) bool {
	ok, _ := ctx.Value(challengeContextKey{}).(bool)
	return ok
}

// RiskFromContext returns the assessment RiskGate attached.
func RiskFromContext(ctx context.Context) (risk.Assessment, bool) {
	a, ok := ctx.Value(riskContextKey{}).(risk.Assessment)
	return a, ok
}

// RiskGate scores the request before sensitive routes such as checkout and
// payment. Block answers 403. Challenge answers 401 with X-Risk-Challenge
// unless the challenge was already passed. Review continues; the gate logs it.
func RiskGate(gate *shopGuard.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := shopGuard.ClientIPFromContext(r.Context())
			if ip == "" {
				ip = ClientIP(r, gate.TrustProxy())
			}

			a := gate.AssessHTTP(r, ip)
			switch a.Decision {
			case risk.Block:
				writeError(w, http.StatusForbidden, msgForbidden)
				return
			case risk.Challenge:
				if !challengePassed(r.Context()) {
					w.Header().Set(ChallengeHeader, "required")
					writeError(w, http.StatusUnauthorized, msgChallenge)
					return
				}
			}

			ctx := context.WithValue(r.Context(), riskContextKey{}, a)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
