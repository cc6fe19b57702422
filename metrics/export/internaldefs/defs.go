package internaldefs

import (
	"github.com/MrEthical07/fingate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   fingate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   fingate.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "fingate_audit_dropped_total"

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: fingate.MetricLoginSuccess, Name: "fingate_login_success_total", Help: "Successful login attempts."},
	{ID: fingate.MetricLoginFailure, Name: "fingate_login_failure_total", Help: "Failed login attempts."},
	{ID: fingate.MetricLoginRateLimited, Name: "fingate_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: fingate.MetricLoginLocked, Name: "fingate_login_locked_total", Help: "Login attempts refused or triggering a lockout."},
	{ID: fingate.MetricRefreshSuccess, Name: "fingate_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: fingate.MetricRefreshFailure, Name: "fingate_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: fingate.MetricRefreshReuseDetected, Name: "fingate_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: fingate.MetricLogout, Name: "fingate_logout_total", Help: "Logout operations."},
	{ID: fingate.MetricRevokedTokenRejected, Name: "fingate_revoked_token_rejected_total", Help: "Tokens rejected because their jti was revoked."},
	{ID: fingate.MetricStaleTokenVersion, Name: "fingate_stale_token_version_total", Help: "Tokens rejected for an outdated token version."},
	{ID: fingate.MetricRegistrationSuccess, Name: "fingate_registration_success_total", Help: "Successful registrations."},
	{ID: fingate.MetricRegistrationDuplicate, Name: "fingate_registration_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: fingate.MetricRateLimitHit, Name: "fingate_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: fingate.MetricOTPIssued, Name: "fingate_otp_issued_total", Help: "One-time codes issued."},
	{ID: fingate.MetricOTPVerifySuccess, Name: "fingate_otp_verify_success_total", Help: "Successful one-time code verifications."},
	{ID: fingate.MetricOTPVerifyFailure, Name: "fingate_otp_verify_failure_total", Help: "Failed one-time code verifications."},
	{ID: fingate.MetricPasswordResetRequest, Name: "fingate_password_reset_request_total", Help: "Password reset requests."},
	{ID: fingate.MetricPasswordResetConfirmSuccess, Name: "fingate_password_reset_confirm_success_total", Help: "Reset codes exchanged for a reset session."},
	{ID: fingate.MetricPasswordResetConfirmFailure, Name: "fingate_password_reset_confirm_failure_total", Help: "Failed reset code confirmations."},
	{ID: fingate.MetricPasswordResetComplete, Name: "fingate_password_reset_complete_total", Help: "Completed password resets."},
	{ID: fingate.MetricPasswordResetSoftMismatch, Name: "fingate_password_reset_soft_mismatch_total", Help: "Resets accepted with one changed context factor."},
	{ID: fingate.MetricPasswordResetRejected, Name: "fingate_password_reset_rejected_total", Help: "Rejected reset submissions."},
	{ID: fingate.MetricMailFailure, Name: "fingate_mail_failure_total", Help: "Mail deliveries that failed."},
	{ID: fingate.MetricProviderUnavailable, Name: "fingate_provider_unavailable_total", Help: "Provider calls refused by budget or open circuit."},
	{ID: fingate.MetricCircuitOpened, Name: "fingate_circuit_opened_total", Help: "Provider circuits opened."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: fingate.MetricValidateLatency, Name: "fingate_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
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

// HistogramBoundSuffix spells [HistogramBounds] for instrument names.
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

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
