package attendance

import (
	"testing"
	"time"
)

func TestCooldownEvaluate(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	policy := NewCooldownPolicy(time.Hour)

	mark := func(ago time.Duration) *time.Time {
		ts := now.Add(-ago)
		return &ts
	}

	tests := []struct {
		name     string
		last     *time.Time
		want     bool
		wantWait time.Duration
	}{
		{name: "no history always allowed", last: nil, want: true},
		{name: "5 minutes ago blocked", last: mark(5 * time.Minute), wantWait: 55 * time.Minute},
		{name: "59 minutes ago blocked", last: mark(59 * time.Minute), wantWait: time.Minute},
		{name: "exactly one hour ago allowed", last: mark(time.Hour), want: true},
		{name: "over an hour ago allowed", last: mark(2 * time.Hour), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Evaluate(tt.last, now)
			if got.Allowed != tt.want {
				t.Errorf("Allowed = %v, want %v", got.Allowed, tt.want)
			}
			if got.WaitRemaining != tt.wantWait {
				t.Errorf("WaitRemaining = %v, want %v", got.WaitRemaining, tt.wantWait)
			}
		})
	}
}

func TestCooldownWaitMinutes(t *testing.T) {
	// Display truncates down to whole minutes.
	tests := []struct {
		wait time.Duration
		want int
	}{
		{55 * time.Minute, 55},
		{55*time.Minute + 30*time.Second, 55},
		{59*time.Minute + 59*time.Second, 59},
		{30 * time.Second, 0},
	}
	for _, tt := range tests {
		d := CooldownDecision{WaitRemaining: tt.wait}
		if got := d.WaitMinutes(); got != tt.want {
			t.Errorf("WaitMinutes(%v) = %d, want %d", tt.wait, got, tt.want)
		}
	}
}

func TestNewCooldownPolicyDefault(t *testing.T) {
	if p := NewCooldownPolicy(0); p.Window != DefaultCooldown {
		t.Errorf("Window = %v, want %v", p.Window, DefaultCooldown)
	}
	if p := NewCooldownPolicy(30 * time.Minute); p.Window != 30*time.Minute {
		t.Errorf("Window = %v, want 30m", p.Window)
	}
}
