package attendance

import "time"

// DefaultCooldown is the minimum gap between two accepted marks by the same
// student.
const DefaultCooldown = time.Hour

// CooldownPolicy decides whether enough time has passed since a student's
// last accepted mark. Only accepted (PRESENT) records feed the lookup.
type CooldownPolicy struct {
	Window time.Duration
}

// NewCooldownPolicy creates a policy, falling back to DefaultCooldown for
// non-positive windows.
func NewCooldownPolicy(window time.Duration) CooldownPolicy {
	if window <= 0 {
		window = DefaultCooldown
	}
	return CooldownPolicy{Window: window}
}

// CooldownDecision is the result of a cooldown evaluation. WaitRemaining is
// zero when Allowed.
type CooldownDecision struct {
	Allowed       bool
	WaitRemaining time.Duration
}

// Evaluate checks the gap between now and the last accepted mark.
// lastAccepted is nil when the student has no accepted history, which is
// always allowed.
func (p CooldownPolicy) Evaluate(lastAccepted *time.Time, now time.Time) CooldownDecision {
	if lastAccepted == nil {
		return CooldownDecision{Allowed: true}
	}
	elapsed := now.Sub(*lastAccepted)
	if elapsed >= p.Window {
		return CooldownDecision{Allowed: true}
	}
	return CooldownDecision{WaitRemaining: p.Window - elapsed}
}

// WaitMinutes truncates the remaining wait down to whole minutes for
// user-facing messages: 55m30s reads as 55.
func (d CooldownDecision) WaitMinutes() int {
	return int(d.WaitRemaining / time.Minute)
}
