package internaldefs

import (
	goGuard "github.com/MrEthical07/goGuard"
)

type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const AuditDroppedName = "goguard_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped because the dispatcher queue was full."

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricLoginSuccess, Name: "goguard_login_success_total", Help: "Successful password logins."},
	{ID: goGuard.MetricLoginFailure, Name: "goguard_login_failure_total", Help: "Failed login attempts."},
	{ID: goGuard.MetricLoginRateLimited, Name: "goguard_rate_limited_total", Help: "Requests refused by a rate or attempt budget."},
	{ID: goGuard.MetricLoginLocked, Name: "goguard_login_locked_total", Help: "Logins refused during a lockout."},
	{ID: goGuard.MetricAccountLocked, Name: "goguard_account_locked_total", Help: "Lockouts applied."},
	{ID: goGuard.MetricAccountUnlocked, Name: "goguard_account_unlocked_total", Help: "Lockouts lifted by an administrator."},
	{ID: goGuard.MetricRefreshSuccess, Name: "goguard_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goGuard.MetricRefreshFailure, Name: "goguard_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: goGuard.MetricRefreshReplay, Name: "goguard_refresh_replay_total", Help: "Refresh token replays detected."},
	{ID: goGuard.MetricLogout, Name: "goguard_logout_total", Help: "Single-session logouts."},
	{ID: goGuard.MetricLogoutAll, Name: "goguard_logout_all_total", Help: "Logout-all operations."},
	{ID: goGuard.MetricTokenBlacklisted, Name: "goguard_token_blacklisted_total", Help: "Access tokens added to the blacklist."},
	{ID: goGuard.MetricSessionEvicted, Name: "goguard_session_evicted_total", Help: "Sessions evicted by the session cap."},
	{ID: goGuard.MetricChallengeFailure, Name: "goguard_challenge_failure_total", Help: "Failed captcha and OTP verifications."},
	{ID: goGuard.MetricOTPSent, Name: "goguard_otp_sent_total", Help: "One-time codes delivered."},
	{ID: goGuard.MetricOTPLoginSuccess, Name: "goguard_otp_login_success_total", Help: "Successful OTP logins."},
	{ID: goGuard.MetricRegisterSuccess, Name: "goguard_register_success_total", Help: "Accounts registered."},
	{ID: goGuard.MetricRegisterDuplicate, Name: "goguard_register_duplicate_total", Help: "Registrations refused for an identifier in use."},
	{ID: goGuard.MetricPasswordChange, Name: "goguard_password_change_total", Help: "Passwords changed by their owner."},
	{ID: goGuard.MetricPasswordReset, Name: "goguard_password_reset_total", Help: "Passwords reset with a one-time code."},
	{ID: goGuard.MetricValidateFailure, Name: "goguard_validate_failure_total", Help: "Access tokens rejected."},
}

var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricValidateLatency, Name: "goguard_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the finite upper bounds in seconds. The last engine
// bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten a histogram into gauges.
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

// NormalizeBuckets pads or truncates raw to the engine's bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
