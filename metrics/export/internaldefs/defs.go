package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricSignInSuccess, Name: "authcore_sign_in_success_total", Help: "Sessions started by signIn or code verification."},
	{ID: authcore.MetricSignInFailure, Name: "authcore_sign_in_failure_total", Help: "Sign-in attempts that returned a failure."},
	{ID: authcore.MetricSignOut, Name: "authcore_sign_out_total", Help: "Sessions deleted by signOut."},
	{ID: authcore.MetricRateLimited, Name: "authcore_rate_limited_total", Help: "Attempts rejected by the failed-attempt limiter."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Refresh tokens rotated."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Refresh presentations that terminated their session."},
	{ID: authcore.MetricRefreshExpired, Name: "authcore_refresh_expired_total", Help: "Refresh presentations rejected as expired."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Created sessions."},
	{ID: authcore.MetricSessionInvalidated, Name: "authcore_session_invalidated_total", Help: "Sessions removed by invalidateSessions."},
	{ID: authcore.MetricCodeIssued, Name: "authcore_verification_code_issued_total", Help: "Verification codes issued."},
	{ID: authcore.MetricCodeVerified, Name: "authcore_verification_code_verified_total", Help: "Verification codes redeemed."},
	{ID: authcore.MetricCodeRejected, Name: "authcore_verification_code_rejected_total", Help: "Verification codes rejected."},
	{ID: authcore.MetricOAuthStarted, Name: "authcore_oauth_started_total", Help: "OAuth verifiers created."},
	{ID: authcore.MetricOAuthSuccess, Name: "authcore_oauth_success_total", Help: "OAuth callbacks that produced a code."},
	{ID: authcore.MetricOAuthFailure, Name: "authcore_oauth_failure_total", Help: "OAuth callbacks or verifier signatures rejected."},
	{ID: authcore.MetricAccountCreated, Name: "authcore_account_created_total", Help: "Accounts created."},
	{ID: authcore.MetricCredentialsRejected, Name: "authcore_credentials_rejected_total", Help: "Credentials lookups that failed."},
	{ID: authcore.MetricSecretRotated, Name: "authcore_secret_rotated_total", Help: "Account secrets replaced."},
	{ID: authcore.MetricDispatchError, Name: "authcore_dispatch_error_total", Help: "Dispatches that rolled back with an error."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricDispatchLatency, Name: "authcore_dispatch_latency_seconds", Help: "Dispatch latency histogram."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets.
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

// HistogramBoundSuffix renders HistogramBounds as metric name suffixes.
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

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into "less or equal" counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
