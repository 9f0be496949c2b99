package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"campusattend/internal/face"
	"campusattend/internal/geo"
	"campusattend/internal/session"
)

// Sentinel errors surfaced by the collaborator stores.
var (
	ErrStudentNotFound  = errors.New("attendance: student not found")
	ErrSessionNotFound  = errors.New("attendance: session not found")
	ErrCooldownConflict = errors.New("attendance: cooldown conflict")

	// ErrInvalidInput marks malformed submissions; no check has run and no
	// side effect has happened.
	ErrInvalidInput = errors.New("attendance: invalid input")
)

// SessionDetail is a session joined with the display fields an accepted
// outcome carries.
type SessionDetail struct {
	session.Session
	CourseName  string
	FacultyName string
}

// IdentityStore is the pipeline's view of the identity subsystem.
type IdentityStore interface {
	Student(ctx context.Context, id string) (Student, error)
	ReferenceImage(ctx context.Context, s Student) ([]byte, error)
	LastAccepted(ctx context.Context, studentID string) (*time.Time, error)
}

// SessionStore resolves sessions.
type SessionStore interface {
	SessionByID(ctx context.Context, id string) (SessionDetail, error)
}

// RecordStore persists outcomes. SaveAccepted must be atomic with respect to
// other submissions by the same student: it rechecks the cooldown under a
// per-student lock and returns ErrCooldownConflict when a concurrent
// acceptance won.
type RecordStore interface {
	SaveRejected(ctx context.Context, rec Record) (Record, error)
	SaveAccepted(ctx context.Context, rec Record, window time.Duration) (Record, error)
}

// Pipeline runs the admission checks for one submission in a fixed order,
// short-circuiting on the first failure: reference/session preconditions,
// face match, session liveness, cooldown, geofence.
type Pipeline struct {
	identity IdentityStore
	sessions SessionStore
	records  RecordStore
	matcher  face.Matcher
	cooldown CooldownPolicy

	now func() time.Time
}

// NewPipeline wires the admission checks.
func NewPipeline(identity IdentityStore, sessions SessionStore, records RecordStore, matcher face.Matcher, cooldown CooldownPolicy) *Pipeline {
	return &Pipeline{
		identity: identity,
		sessions: sessions,
		records:  records,
		matcher:  matcher,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Evaluate runs the pipeline for one submission and returns a terminal
// outcome. Rejections are outcomes, not errors; an error means the
// submission was malformed or the infrastructure failed, and the caller may
// retry a fresh submission.
func (p *Pipeline) Evaluate(ctx context.Context, sub Submission) (Outcome, error) {
	if sub.StudentID == "" || sub.SessionID == "" {
		return Outcome{}, fmt.Errorf("%w: student and session required", ErrInvalidInput)
	}
	if len(sub.Probe) == 0 {
		return Outcome{}, fmt.Errorf("%w: face capture required", ErrInvalidInput)
	}
	if err := sub.Location.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	student, err := p.identity.Student(ctx, sub.StudentID)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return Outcome{}, fmt.Errorf("%w: unknown student", ErrInvalidInput)
		}
		return Outcome{}, err
	}
	if !student.HasReference() {
		return rejected(ReasonMissingReference), nil
	}

	sess, err := p.sessions.SessionByID(ctx, sub.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return rejected(ReasonUnknownSession), nil
		}
		return Outcome{}, err
	}

	now := p.now()

	// Identity first: an unmatched face learns nothing about session or
	// location state.
	match, err := p.matchFace(ctx, student, sub.Probe)
	if err != nil {
		// Fail closed. "Could not evaluate" is still a rejection, but the
		// student is told whether a face was found at all.
		reason := ReasonFaceMismatch
		if errors.Is(err, face.ErrNoFaceDetected) {
			reason = ReasonNoFaceDetected
		} else {
			log.Printf("face match failed closed for student %s: %v", student.ID, err)
		}
		p.saveRejected(ctx, sub, now, nil)
		return rejected(reason), nil
	}
	if !match.Match {
		p.saveRejected(ctx, sub, now, &match.Distance)
		return rejected(ReasonFaceMismatch), nil
	}

	if !sess.ActiveAt(now) {
		p.saveRejected(ctx, sub, now, &match.Distance)
		return rejected(ReasonSessionExpired), nil
	}

	last, err := p.identity.LastAccepted(ctx, student.ID)
	if err != nil {
		return Outcome{}, err
	}
	if decision := p.cooldown.Evaluate(last, now); !decision.Allowed {
		p.saveRejected(ctx, sub, now, &match.Distance)
		return rejectedWait(ReasonCooldownActive, decision.WaitRemaining), nil
	}

	within, err := geo.WithinRadius(sess.Anchor, sub.Location, sess.RadiusMeters)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !within {
		p.saveRejected(ctx, sub, now, &match.Distance)
		return rejected(ReasonOutOfRange), nil
	}

	rec := Record{
		SessionID:     sub.SessionID,
		StudentID:     student.ID,
		Location:      sub.Location,
		OccurredAt:    now,
		Status:        StatusPresent,
		MatchDistance: &match.Distance,
	}
	saved, err := p.records.SaveAccepted(ctx, rec, p.cooldown.Window)
	if err != nil {
		if errors.Is(err, ErrCooldownConflict) {
			// A concurrent submission from the same student was accepted
			// between our check and the write.
			wait := p.cooldown.Window
			if last, lerr := p.identity.LastAccepted(ctx, student.ID); lerr == nil {
				if d := p.cooldown.Evaluate(last, p.now()); !d.Allowed {
					wait = d.WaitRemaining
				}
			}
			return rejectedWait(ReasonCooldownActive, wait), nil
		}
		return Outcome{}, err
	}

	return Outcome{
		Accepted:    true,
		Message:     "attendance marked",
		CourseName:  sess.CourseName,
		FacultyName: sess.FacultyName,
		Topic:       sess.Topic,
		RecordID:    saved.ID,
	}, nil
}

// matchFace resolves the reference bytes and runs the matcher. Any failure
// fetching the reference is a matcher failure, never a pass.
func (p *Pipeline) matchFace(ctx context.Context, student Student, probe []byte) (face.Result, error) {
	ref, err := p.identity.ReferenceImage(ctx, student)
	if err != nil {
		return face.Result{}, fmt.Errorf("reference image: %w", err)
	}
	return p.matcher.Match(ctx, ref, probe)
}

// saveRejected records a turned-away submission for audit. Rejected rows
// never feed cooldown, so a write failure here only loses audit data.
func (p *Pipeline) saveRejected(ctx context.Context, sub Submission, now time.Time, distance *float64) {
	rec := Record{
		SessionID:     sub.SessionID,
		StudentID:     sub.StudentID,
		Location:      sub.Location,
		OccurredAt:    now,
		Status:        StatusRejected,
		MatchDistance: distance,
	}
	if _, err := p.records.SaveRejected(ctx, rec); err != nil {
		log.Printf("save rejected record failed for student %s: %v", sub.StudentID, err)
	}
}
