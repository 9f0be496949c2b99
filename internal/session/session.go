package session

import (
	"errors"
	"time"

	"campusattend/internal/geo"
)

// Session is one open attendance window for a course. Immutable after
// creation except for StoppedAt, which faculty may set once to close the
// window early. "Active" is always derived from the clock, never stored.
type Session struct {
	ID           string
	CourseID     string
	StartTime    time.Time
	Duration     time.Duration
	Anchor       geo.Point
	RadiusMeters float64
	Topic        string
	StoppedAt    *time.Time
	CreatedAt    time.Time
}

// Validate checks the creation invariants.
func (s Session) Validate() error {
	if s.Duration <= 0 {
		return errors.New("session: duration must be positive")
	}
	if s.RadiusMeters <= 0 {
		return errors.New("session: radius must be positive")
	}
	if err := s.Anchor.Validate(); err != nil {
		return err
	}
	return nil
}

// EndTime is the scheduled end of the window, ignoring any early stop.
func (s Session) EndTime() time.Time {
	return s.StartTime.Add(s.Duration)
}

// ActiveAt reports whether the session accepts marks at the given instant:
// strictly before the scheduled end, and strictly before StoppedAt when set.
func (s Session) ActiveAt(now time.Time) bool {
	if !now.Before(s.EndTime()) {
		return false
	}
	if s.StoppedAt != nil && !now.Before(*s.StoppedAt) {
		return false
	}
	return true
}
