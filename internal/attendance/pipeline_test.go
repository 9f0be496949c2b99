package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"campusattend/internal/face"
	"campusattend/internal/geo"
	"campusattend/internal/session"
)

type fakeIdentity struct {
	students     map[string]Student
	references   map[string][]byte
	lastAccepted map[string]time.Time
	refErr       error
}

func (f *fakeIdentity) Student(_ context.Context, id string) (Student, error) {
	s, ok := f.students[id]
	if !ok {
		return Student{}, ErrStudentNotFound
	}
	return s, nil
}

func (f *fakeIdentity) ReferenceImage(_ context.Context, s Student) ([]byte, error) {
	if f.refErr != nil {
		return nil, f.refErr
	}
	return f.references[s.ID], nil
}

func (f *fakeIdentity) LastAccepted(_ context.Context, id string) (*time.Time, error) {
	ts, ok := f.lastAccepted[id]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

type fakeSessions struct {
	sessions map[string]SessionDetail
}

func (f *fakeSessions) SessionByID(_ context.Context, id string) (SessionDetail, error) {
	s, ok := f.sessions[id]
	if !ok {
		return SessionDetail{}, ErrSessionNotFound
	}
	return s, nil
}

type fakeRecords struct {
	accepted    []Record
	rejected    []Record
	acceptedErr error
}

func (f *fakeRecords) SaveRejected(_ context.Context, rec Record) (Record, error) {
	rec.ID = "rej-1"
	f.rejected = append(f.rejected, rec)
	return rec, nil
}

func (f *fakeRecords) SaveAccepted(_ context.Context, rec Record, _ time.Duration) (Record, error) {
	if f.acceptedErr != nil {
		return Record{}, f.acceptedErr
	}
	rec.ID = "acc-1"
	f.accepted = append(f.accepted, rec)
	return rec, nil
}

type fakeMatcher struct {
	result face.Result
	err    error
	calls  int
}

func (f *fakeMatcher) Match(_ context.Context, _, _ []byte) (face.Result, error) {
	f.calls++
	return f.result, f.err
}

// fixture wires a pipeline around one live session at the campus anchor with
// a matching student.
type fixture struct {
	identity *fakeIdentity
	sessions *fakeSessions
	records  *fakeRecords
	matcher  *fakeMatcher
	pipeline *Pipeline
	now      time.Time
	anchor   geo.Point
}

func newFixture() *fixture {
	now := time.Date(2025, 3, 10, 9, 5, 0, 0, time.UTC)
	anchor := geo.Point{Lat: 17.3850, Lng: 78.4867}

	f := &fixture{
		identity: &fakeIdentity{
			students: map[string]Student{
				"stu-1": {ID: "stu-1", Name: "Asha", Role: RoleStudent, ReferenceImageURL: "https://img/stu-1.jpg"},
				"stu-2": {ID: "stu-2", Name: "Ravi", Role: RoleStudent},
			},
			references:   map[string][]byte{"stu-1": []byte("ref")},
			lastAccepted: map[string]time.Time{},
		},
		sessions: &fakeSessions{
			sessions: map[string]SessionDetail{
				"sess-1": {
					Session: session.Session{
						ID:           "sess-1",
						CourseID:     "course-1",
						StartTime:    now.Add(-5 * time.Minute),
						Duration:     10 * time.Minute,
						Anchor:       anchor,
						RadiusMeters: 200,
						Topic:        "Graph Theory",
					},
					CourseName:  "Discrete Math",
					FacultyName: "Dr. Rao",
				},
			},
		},
		records: &fakeRecords{},
		matcher: &fakeMatcher{result: face.Result{Match: true, Distance: 0.21, Threshold: 0.5}},
		now:     now,
		anchor:  anchor,
	}
	f.pipeline = NewPipeline(f.identity, f.sessions, f.records, f.matcher, NewCooldownPolicy(time.Hour))
	f.pipeline.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) submission() Submission {
	return Submission{
		StudentID: "stu-1",
		SessionID: "sess-1",
		Location:  f.anchor,
		Probe:     []byte("probe"),
	}
}

func TestPipelineAccepted(t *testing.T) {
	f := newFixture()
	out, err := f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("Evaluate() rejected with %q, want accepted", out.Reason)
	}
	if out.CourseName != "Discrete Math" || out.FacultyName != "Dr. Rao" || out.Topic != "Graph Theory" {
		t.Errorf("display fields = %q/%q/%q", out.CourseName, out.FacultyName, out.Topic)
	}
	if len(f.records.accepted) != 1 {
		t.Fatalf("accepted records = %d, want 1", len(f.records.accepted))
	}
	rec := f.records.accepted[0]
	if rec.Status != StatusPresent || rec.StudentID != "stu-1" || rec.SessionID != "sess-1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.MatchDistance == nil || *rec.MatchDistance != 0.21 {
		t.Errorf("MatchDistance = %v, want 0.21", rec.MatchDistance)
	}
}

func TestPipelineRejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*fixture, *Submission)
		wantReason Reason
	}{
		{
			name:       "missing reference",
			mutate:     func(f *fixture, s *Submission) { s.StudentID = "stu-2" },
			wantReason: ReasonMissingReference,
		},
		{
			name:       "unknown session",
			mutate:     func(f *fixture, s *Submission) { s.SessionID = "nope" },
			wantReason: ReasonUnknownSession,
		},
		{
			name: "face mismatch",
			mutate: func(f *fixture, s *Submission) {
				f.matcher.result = face.Result{Match: false, Distance: 0.73, Threshold: 0.5}
			},
			wantReason: ReasonFaceMismatch,
		},
		{
			name: "no face detected",
			mutate: func(f *fixture, s *Submission) {
				f.matcher.err = face.ErrNoFaceDetected
			},
			wantReason: ReasonNoFaceDetected,
		},
		{
			name: "matcher error fails closed",
			mutate: func(f *fixture, s *Submission) {
				f.matcher.err = errors.New("decode failure")
			},
			wantReason: ReasonFaceMismatch,
		},
		{
			name: "reference fetch error fails closed",
			mutate: func(f *fixture, s *Submission) {
				f.identity.refErr = errors.New("storage offline")
			},
			wantReason: ReasonFaceMismatch,
		},
		{
			name: "session expired",
			mutate: func(f *fixture, s *Submission) {
				f.now = f.now.Add(6 * time.Minute) // 11 minutes after start
			},
			wantReason: ReasonSessionExpired,
		},
		{
			name: "cooldown active",
			mutate: func(f *fixture, s *Submission) {
				f.identity.lastAccepted["stu-1"] = f.now.Add(-5 * time.Minute)
			},
			wantReason: ReasonCooldownActive,
		},
		{
			name: "out of range",
			mutate: func(f *fixture, s *Submission) {
				s.Location = geo.Point{Lat: f.anchor.Lat + 0.045, Lng: f.anchor.Lng} // ~5km
			},
			wantReason: ReasonOutOfRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			sub := f.submission()
			tt.mutate(f, &sub)

			out, err := f.pipeline.Evaluate(context.Background(), sub)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if out.Accepted {
				t.Fatal("Evaluate() accepted, want rejection")
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
			if len(f.records.accepted) != 0 {
				t.Errorf("accepted records = %d, want 0", len(f.records.accepted))
			}
		})
	}
}

func TestPipelineCooldownWait(t *testing.T) {
	f := newFixture()
	f.identity.lastAccepted["stu-1"] = f.now.Add(-5 * time.Minute)

	out, err := f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Reason != ReasonCooldownActive {
		t.Fatalf("Reason = %q, want cooldown_active", out.Reason)
	}
	if out.WaitMinutes != 55 {
		t.Errorf("WaitMinutes = %d, want 55", out.WaitMinutes)
	}
}

func TestPipelineRejectedRecordsNeverFeedCooldown(t *testing.T) {
	// A prior rejection must not block a later submission: the fake mirrors
	// the store contract where only PRESENT rows surface via LastAccepted.
	f := newFixture()
	f.matcher.result = face.Result{Match: false, Distance: 0.9, Threshold: 0.5}
	if _, err := f.pipeline.Evaluate(context.Background(), f.submission()); err != nil {
		t.Fatalf("first Evaluate() error = %v", err)
	}
	if len(f.records.rejected) != 1 {
		t.Fatalf("rejected records = %d, want 1", len(f.records.rejected))
	}

	f.matcher.result = face.Result{Match: true, Distance: 0.2, Threshold: 0.5}
	out, err := f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil {
		t.Fatalf("second Evaluate() error = %v", err)
	}
	if !out.Accepted {
		t.Errorf("second Evaluate() rejected with %q, want accepted", out.Reason)
	}
}

func TestPipelineCheckOrder(t *testing.T) {
	// An unmatched face must short-circuit before session, cooldown, and
	// location are even considered.
	f := newFixture()
	f.matcher.result = face.Result{Match: false, Distance: 0.9}
	f.now = f.now.Add(20 * time.Minute) // session also expired
	f.identity.lastAccepted["stu-1"] = f.now.Add(-time.Minute)

	sub := f.submission()
	sub.Location = geo.Point{Lat: 0, Lng: 0} // far away too

	out, err := f.pipeline.Evaluate(context.Background(), sub)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Reason != ReasonFaceMismatch {
		t.Errorf("Reason = %q, want face_mismatch first", out.Reason)
	}
}

func TestPipelineInputErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
	}{
		{name: "missing probe", mutate: func(s *Submission) { s.Probe = nil }},
		{name: "missing student", mutate: func(s *Submission) { s.StudentID = "" }},
		{name: "missing session", mutate: func(s *Submission) { s.SessionID = "" }},
		{name: "bad latitude", mutate: func(s *Submission) { s.Location.Lat = 123 }},
		{name: "bad longitude", mutate: func(s *Submission) { s.Location.Lng = -190 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			sub := f.submission()
			tt.mutate(&sub)

			_, err := f.pipeline.Evaluate(context.Background(), sub)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Evaluate() error = %v, want ErrInvalidInput", err)
			}
			if f.matcher.calls != 0 {
				t.Error("matcher ran on malformed input")
			}
			if len(f.records.rejected)+len(f.records.accepted) != 0 {
				t.Error("records written on malformed input")
			}
		})
	}
}

func TestPipelineCooldownConflict(t *testing.T) {
	f := newFixture()
	f.records.acceptedErr = ErrCooldownConflict
	f.identity.lastAccepted["stu-1"] = f.now.Add(-time.Minute)

	out, err := f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if out.Reason != ReasonCooldownActive {
		t.Errorf("Reason = %q, want cooldown_active on write conflict", out.Reason)
	}
}

func TestPipelineEndToEndScenario(t *testing.T) {
	// Session at the campus anchor, radius 200m, 10 minute window.
	f := newFixture()

	// 1. Matching face, same coordinates, no history: accepted.
	out, err := f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil || !out.Accepted {
		t.Fatalf("step 1: out = %+v, err = %v", out, err)
	}

	// 2. Four minutes later, window still open: cooldown blocks the repeat.
	f.identity.lastAccepted["stu-1"] = f.now
	f.now = f.now.Add(4 * time.Minute) // still inside the session window
	out, err = f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil || out.Reason != ReasonCooldownActive {
		t.Fatalf("step 2: out = %+v, err = %v", out, err)
	}
	if out.WaitMinutes != 56 {
		t.Errorf("step 2: WaitMinutes = %d, want 56", out.WaitMinutes)
	}

	// 3. 5km away: out of range (fresh student to dodge cooldown).
	delete(f.identity.lastAccepted, "stu-1")
	sub := f.submission()
	sub.Location = geo.Point{Lat: f.anchor.Lat + 0.045, Lng: f.anchor.Lng}
	out, err = f.pipeline.Evaluate(context.Background(), sub)
	if err != nil || out.Reason != ReasonOutOfRange {
		t.Fatalf("step 3: out = %+v, err = %v", out, err)
	}

	// 4. Capture with no detectable face.
	f.matcher.err = face.ErrNoFaceDetected
	out, err = f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil || out.Reason != ReasonNoFaceDetected {
		t.Fatalf("step 4: out = %+v, err = %v", out, err)
	}
	f.matcher.err = nil

	// 5. Well past the scheduled end of the window.
	f.now = f.now.Add(7 * time.Minute)
	out, err = f.pipeline.Evaluate(context.Background(), f.submission())
	if err != nil || out.Reason != ReasonSessionExpired {
		t.Fatalf("step 5: out = %+v, err = %v", out, err)
	}
}
