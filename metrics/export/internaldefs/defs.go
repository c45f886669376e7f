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

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful login attempts."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed login attempts."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Login attempts rejected by an active lockout."},
	{ID: authcore.MetricLoginUnverified, Name: "authcore_login_unverified_total", Help: "Login attempts rejected for unverified email."},
	{ID: authcore.MetricLoginDisabled, Name: "authcore_login_disabled_total", Help: "Login attempts rejected for disabled accounts."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh operations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: authcore.MetricRefreshChainRevoked, Name: "authcore_refresh_chain_revoked_total", Help: "Descendant refresh tokens revoked after reuse."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logout operations."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Revoke-all operations."},
	{ID: authcore.MetricAccountCreationSuccess, Name: "authcore_account_creation_success_total", Help: "Successful account creations."},
	{ID: authcore.MetricAccountCreationDuplicate, Name: "authcore_account_creation_duplicate_total", Help: "Account creation attempts rejected as duplicate."},
	{ID: authcore.MetricAccountCreationWeakPassword, Name: "authcore_account_creation_weak_password_total", Help: "Account creation attempts rejected for a weak password."},
	{ID: authcore.MetricEmailVerificationRequest, Name: "authcore_email_verification_request_total", Help: "Verification tokens issued."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Reset tokens issued."},
	{ID: authcore.MetricPasswordResetConfirmSuccess, Name: "authcore_password_reset_confirm_success_total", Help: "Successful password resets."},
	{ID: authcore.MetricPasswordResetConfirmFailure, Name: "authcore_password_reset_confirm_failure_total", Help: "Failed password resets."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricPasswordChangeReuseRejected, Name: "authcore_password_change_reuse_rejected_total", Help: "Password changes rejected as unchanged."},
	{ID: authcore.MetricPasswordRehashed, Name: "authcore_password_rehashed_total", Help: "Password hashes upgraded on login."},
	{ID: authcore.MetricAccountDisabled, Name: "authcore_account_disabled_total", Help: "Account disable operations."},
	{ID: authcore.MetricAccountEnabled, Name: "authcore_account_enabled_total", Help: "Account enable operations."},
	{ID: authcore.MetricNotifyFailure, Name: "authcore_notify_failure_total", Help: "Notifications that failed to send."},
}

// HistogramDefs lists every latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency histogram."},
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency histogram."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds. The last
// bucket is unbounded and has no entry.
var HistogramUpperBounds = [authcore.HistogramBucketCount - 1]float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
}

// HistogramBoundSuffix names each bucket in instrument names.
var HistogramBoundSuffix = [authcore.HistogramBucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [authcore.HistogramBucketCount]uint64 {
	var out [authcore.HistogramBucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [authcore.HistogramBucketCount]uint64) [authcore.HistogramBucketCount]uint64 {
	var out [authcore.HistogramBucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
