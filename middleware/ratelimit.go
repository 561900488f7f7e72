package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	shopGuard "github.com/MrEthical07/shopGuard"
	"github.com/MrEthical07/shopGuard/ratelimit"
	"go.uber.org/zap"
)

// RateLimit counts every request against policy, keyed by keyFunc
// (KeyByClientIP when nil).
//
// Over the limit the client gets 429 with Retry-After. For skip-successful
// policies the hit is refunded when the handler answers below 400, so only
// failed logins count. A fail-closed policy whose store is down answers 503.
func RateLimit(gate *shopGuard.Gate, policy ratelimit.Policy, keyFunc KeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = KeyByClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := keyFunc(gate, r)
			d, err := gate.CheckRateLimit(r.Context(), policy, client)
			switch {
			case errors.Is(err, ratelimit.ErrRateLimited):
				SetRateLimitHeaders(w.Header(), d)
				writeJSON(w, http.StatusTooManyRequests, RateLimited(w.Header(), d, gate.Now()))
				return
			case err != nil:
				writeError(w, http.StatusServiceUnavailable, msgUnavailable)
				return
			}

			SetRateLimitHeaders(w.Header(), d)
			if !policy.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.Status() < http.StatusBadRequest {
				if err := gate.RefundRateLimit(r.Context(), policy, client, d); err != nil {
					gate.Logger().Warn("rate limit refund failed",
						zap.String("policy", policy.Name),
						zap.Error(err),
					)
				}
			}
		})
	}
}

// RateLimitedBody is the JSON body of a 429.
type RateLimitedBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// RetryAfterSeconds is how long a denied client should wait, in whole
// seconds rounded up. It is never below 1, even when the window is about to
// close or already has.
func RetryAfterSeconds(d ratelimit.Decision, now time.Time) int64 {
	retry := int64(math.Ceil(d.RetryAfter(now).Seconds()))
	if retry < 1 {
		retry = 1
	}
	return retry
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// RateLimited sets Retry-After on h and returns the matching 429 body.
func RateLimited(h http.Header, d ratelimit.Decision, now time.Time) RateLimitedBody {
	retry := RetryAfterSeconds(d, now)
	h.Set("Retry-After", strconv.FormatInt(retry, 10))
	return RateLimitedBody{Error: msgTooMany, RetryAfter: retry}
}
