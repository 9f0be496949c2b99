package attendance

import (
	"fmt"
	"time"
)

// Reason identifies why a submission was turned away. The codes are part of
// the API surface and stable.
type Reason string

const (
	ReasonMissingReference Reason = "missing_reference"
	ReasonUnknownSession   Reason = "unknown_session"
	ReasonFaceMismatch     Reason = "face_mismatch"
	ReasonNoFaceDetected   Reason = "no_face_detected"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonCooldownActive   Reason = "cooldown_active"
	ReasonOutOfRange       Reason = "out_of_range"
)

// message returns the student-facing text for a rejection.
func (r Reason) message(wait time.Duration) string {
	switch r {
	case ReasonMissingReference:
		return "no reference photo on file, ask an admin to upload one"
	case ReasonUnknownSession:
		return "session does not exist"
	case ReasonFaceMismatch:
		return "face does not match the photo on file"
	case ReasonNoFaceDetected:
		return "no face detected in the capture"
	case ReasonSessionExpired:
		return "the attendance window has closed"
	case ReasonCooldownActive:
		return fmt.Sprintf("attendance already marked, try again in %d minutes", int(wait/time.Minute))
	case ReasonOutOfRange:
		return "you are outside the session area"
	}
	return string(r)
}

// Outcome is the terminal result of one pipeline evaluation.
type Outcome struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`

	// Set when Accepted.
	CourseName  string `json:"course_name,omitempty"`
	FacultyName string `json:"faculty_name,omitempty"`
	Topic       string `json:"topic,omitempty"`
	RecordID    string `json:"record_id,omitempty"`

	// Set when rejected.
	Reason        Reason        `json:"reason,omitempty"`
	WaitRemaining time.Duration `json:"-"`
	WaitMinutes   int           `json:"wait_minutes,omitempty"`
}

func rejected(reason Reason) Outcome {
	return Outcome{Reason: reason, Message: reason.message(0)}
}

func rejectedWait(reason Reason, wait time.Duration) Outcome {
	return Outcome{
		Reason:        reason,
		Message:       reason.message(wait),
		WaitRemaining: wait,
		WaitMinutes:   int(wait / time.Minute),
	}
}
