package internaldefs

import (
	"math"

	shopGuard "github.com/MrEthical07/shopGuard"
)

// CounterDef names one gate counter for export.
type CounterDef struct {
	ID   shopGuard.MetricID
	Name string
	Help string
}

// HistogramDef names one gate histogram for export.
type HistogramDef struct {
	ID   shopGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: shopGuard.MetricAuthSuccess, Name: "shopguard_auth_success_total", Help: "Access tokens verified successfully."},
	{ID: shopGuard.MetricAuthMissing, Name: "shopguard_auth_missing_total", Help: "Requests that carried no access token."},
	{ID: shopGuard.MetricAuthExpired, Name: "shopguard_auth_expired_total", Help: "Access tokens rejected as expired."},
	{ID: shopGuard.MetricAuthInvalid, Name: "shopguard_auth_invalid_total", Help: "Access tokens rejected as malformed, forged or carrying bad claims."},
	{ID: shopGuard.MetricTokenIssued, Name: "shopguard_token_issued_total", Help: "Access and refresh tokens signed."},
	{ID: shopGuard.MetricRefreshSuccess, Name: "shopguard_refresh_success_total", Help: "Successful refresh exchanges."},
	{ID: shopGuard.MetricRefreshFailure, Name: "shopguard_refresh_failure_total", Help: "Failed refresh exchanges."},
	{ID: shopGuard.MetricRateLimitAllowed, Name: "shopguard_rate_limit_allowed_total", Help: "Requests admitted by the rate limiter."},
	{ID: shopGuard.MetricRateLimitDenied, Name: "shopguard_rate_limit_denied_total", Help: "Requests denied by the rate limiter."},
	{ID: shopGuard.MetricRateLimitDegraded, Name: "shopguard_rate_limit_degraded_total", Help: "Rate-limit decisions taken without the shared store."},
	{ID: shopGuard.MetricRateLimitStoreDown, Name: "shopguard_rate_limit_store_down_total", Help: "Requests refused because the rate-limit store was unreachable."},
	{ID: shopGuard.MetricRiskAllow, Name: "shopguard_risk_allow_total", Help: "Risk assessments that allowed the request."},
	{ID: shopGuard.MetricRiskReview, Name: "shopguard_risk_review_total", Help: "Risk assessments flagged for review."},
	{ID: shopGuard.MetricRiskChallenge, Name: "shopguard_risk_challenge_total", Help: "Risk assessments that required a challenge."},
	{ID: shopGuard.MetricRiskBlock, Name: "shopguard_risk_block_total", Help: "Risk assessments that blocked the request."},
	{ID: shopGuard.MetricCSRFIssued, Name: "shopguard_csrf_issued_total", Help: "Anti-forgery tokens issued."},
	{ID: shopGuard.MetricCSRFValid, Name: "shopguard_csrf_valid_total", Help: "Anti-forgery tokens accepted."},
	{ID: shopGuard.MetricCSRFRejected, Name: "shopguard_csrf_rejected_total", Help: "Anti-forgery tokens rejected."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: shopGuard.MetricVerifyLatency, Name: "shopguard_verify_latency_seconds", Help: "Access token verification latency."},
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const (
	AuditDroppedName = "shopguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramBounds are the bucket upper bounds in Prometheus "le" notation.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramUpperBounds mirrors HistogramBounds as seconds.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, math.Inf(1)}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
