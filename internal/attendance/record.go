package attendance

import (
	"time"

	"campusattend/internal/geo"
)

// Record statuses. A PRESENT record is immutable and feeds future cooldown
// checks; REJECTED records are kept for audit only and never satisfy the
// cooldown predicate.
const (
	StatusPresent  = "PRESENT"
	StatusRejected = "REJECTED"
)

// Student roles, mirroring the identity subsystem.
const (
	RoleStudent = "STUDENT"
	RoleFaculty = "FACULTY"
	RoleAdmin   = "ADMIN"
)

// Record is one persisted outcome of a submission.
type Record struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	StudentID     string    `json:"student_id"`
	Location      geo.Point `json:"location"`
	OccurredAt    time.Time `json:"occurred_at"`
	Status        string    `json:"status"`
	MatchDistance *float64  `json:"match_distance,omitempty"`
	ImageURL      *string   `json:"image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Student is the pipeline's read-only view of the identity subsystem. The
// reference image URL is the single authoritative source for face matching.
type Student struct {
	ID                string
	Name              string
	Role              string
	ReferenceImageURL string
}

// HasReference reports whether the student can be face-matched at all.
func (s Student) HasReference() bool { return s.ReferenceImageURL != "" }

// Submission is the transient input to one pipeline evaluation. It has no
// identity of its own and is consumed exactly once.
type Submission struct {
	StudentID string
	SessionID string
	Location  geo.Point
	Probe     []byte
}
