package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"campusattend/internal/session"
)

// Repository persists attendance data in Postgres and resolves reference
// images over HTTP. It implements IdentityStore, SessionStore and
// RecordStore.
type Repository struct {
	db   *sql.DB
	http *http.Client
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:   db,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Student resolves a user row into the pipeline's identity view.
func (r *Repository) Student(ctx context.Context, id string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, COALESCE(reference_image_url, '')
		FROM users WHERE id = $1
	`, id)
	var s Student
	if err := row.Scan(&s.ID, &s.Name, &s.Role, &s.ReferenceImageURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrStudentNotFound
		}
		return Student{}, err
	}
	return s, nil
}

// ReferenceImage fetches the stored reference photo. The URL on the user row
// is the single authoritative source; there is no fallback image.
func (r *Repository) ReferenceImage(ctx context.Context, s Student) ([]byte, error) {
	if s.ReferenceImageURL == "" {
		return nil, fmt.Errorf("student %s has no reference image", s.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ReferenceImageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reference image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch reference image: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// LastAccepted returns the time of the student's most recent PRESENT record,
// or nil when none exists. REJECTED rows never surface here.
func (r *Repository) LastAccepted(ctx context.Context, studentID string) (*time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT occurred_at FROM attendance_records
		WHERE student_id = $1 AND status = $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`, studentID, StatusPresent)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ts, nil
}

// SessionByID resolves a session joined with course and faculty display
// fields.
func (r *Repository) SessionByID(ctx context.Context, id string) (SessionDetail, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.course_id, s.start_time, s.duration_seconds, s.lat, s.lng,
		       s.radius_meters, s.topic, s.stopped_at, s.created_at,
		       c.name, u.name
		FROM sessions s
		JOIN courses c ON c.id = s.course_id
		JOIN users u ON u.id = c.faculty_id
		WHERE s.id = $1
	`, id)
	var (
		d       SessionDetail
		seconds int64
	)
	err := row.Scan(&d.ID, &d.CourseID, &d.StartTime, &seconds, &d.Anchor.Lat, &d.Anchor.Lng,
		&d.RadiusMeters, &d.Topic, &d.StoppedAt, &d.CreatedAt, &d.CourseName, &d.FacultyName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionDetail{}, ErrSessionNotFound
		}
		return SessionDetail{}, err
	}
	d.Duration = time.Duration(seconds) * time.Second
	return d, nil
}

// CreateSession validates and inserts a new attendance window.
func (r *Repository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	if err := s.Validate(); err != nil {
		return session.Session{}, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, course_id, start_time, duration_seconds, lat, lng, radius_meters, topic)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, s.ID, s.CourseID, s.StartTime, int64(s.Duration/time.Second), s.Anchor.Lat, s.Anchor.Lng, s.RadiusMeters, s.Topic)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return session.Session{}, err
	}
	return s, nil
}

// StopSession sets stopped_at once; marks are refused from that instant.
// Stopping an already-stopped session is a no-op.
func (r *Repository) StopSession(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET stopped_at = $2
		WHERE id = $1 AND stopped_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT TRUE FROM sessions WHERE id = $1`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrSessionNotFound
			}
			return err
		}
	}
	return nil
}

// LiveSessions lists sessions for a course that are still accepting marks.
func (r *Repository) LiveSessions(ctx context.Context, courseID string, now time.Time) ([]session.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, course_id, start_time, duration_seconds, lat, lng, radius_meters, topic, stopped_at, created_at
		FROM sessions
		WHERE course_id = $1
		  AND start_time + duration_seconds * interval '1 second' > $2
		  AND (stopped_at IS NULL OR stopped_at > $2)
		ORDER BY start_time DESC
	`, courseID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []session.Session
	for rows.Next() {
		var (
			s       session.Session
			seconds int64
		)
		if err := rows.Scan(&s.ID, &s.CourseID, &s.StartTime, &seconds, &s.Anchor.Lat, &s.Anchor.Lng,
			&s.RadiusMeters, &s.Topic, &s.StoppedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(seconds) * time.Second
		res = append(res, s)
	}
	return res, rows.Err()
}

// SaveRejected inserts an audit row for a turned-away submission.
func (r *Repository) SaveRejected(ctx context.Context, rec Record) (Record, error) {
	rec.Status = StatusRejected
	return r.insert(ctx, r.db, rec)
}

// SaveAccepted inserts a PRESENT record atomically with respect to other
// submissions by the same student: a per-student advisory lock serializes
// the recheck and the insert, so two near-simultaneous submissions inside
// one cooldown window can never both land.
func (r *Repository) SaveAccepted(ctx context.Context, rec Record, window time.Duration) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.StudentID); err != nil {
		return Record{}, err
	}

	var last time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT occurred_at FROM attendance_records
		WHERE student_id = $1 AND status = $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`, rec.StudentID, StatusPresent).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no prior accepted mark
	case err != nil:
		return Record{}, err
	case rec.OccurredAt.Sub(last) < window:
		return Record{}, ErrCooldownConflict
	}

	rec.Status = StatusPresent
	saved, err := r.insert(ctx, tx, rec)
	if err != nil {
		return Record{}, err
	}
	return saved, tx.Commit()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) insert(ctx context.Context, q rowQuerier, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	row := q.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, lat, lng, occurred_at, status, match_distance, image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Location.Lat, rec.Location.Lng,
		rec.OccurredAt, rec.Status, rec.MatchDistance, rec.ImageURL)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// GetRecord returns a single record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, student_id, lat, lng, occurred_at, status, match_distance, image_url, created_at
		FROM attendance_records WHERE id = $1
	`, id)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Location.Lat, &rec.Location.Lng,
		&rec.OccurredAt, &rec.Status, &rec.MatchDistance, &rec.ImageURL, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// SetRecordImageURL backfills the archived capture URL after the worker
// uploads it.
func (r *Repository) SetRecordImageURL(ctx context.Context, id, url string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET image_url = $2 WHERE id = $1
	`, id, url)
	return err
}

// ListByStudent returns a student's records, newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, student_id, lat, lng, occurred_at, status, match_distance, image_url, created_at
		FROM attendance_records
		WHERE student_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.Location.Lat, &rec.Location.Lng,
			&rec.OccurredAt, &rec.Status, &rec.MatchDistance, &rec.ImageURL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// CourseOwnedBy reports whether a course belongs to the given faculty user.
func (r *Repository) CourseOwnedBy(ctx context.Context, courseID, facultyID string) (bool, error) {
	var owned bool
	err := r.db.QueryRowContext(ctx, `
		SELECT faculty_id = $2 FROM courses WHERE id = $1
	`, courseID, facultyID).Scan(&owned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return owned, err
}

// SessionCourse returns the course id a session belongs to.
func (r *Repository) SessionCourse(ctx context.Context, sessionID string) (string, error) {
	var courseID string
	err := r.db.QueryRowContext(ctx, `SELECT course_id FROM sessions WHERE id = $1`, sessionID).Scan(&courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	return courseID, err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, token, expiresAt)
	return err
}
