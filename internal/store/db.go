package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and applies the
// schema.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, err
	}
	return &DB{Client: db}, migrate(db)
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		email                TEXT UNIQUE NOT NULL,
		role                 TEXT NOT NULL DEFAULT 'STUDENT',
		reference_image_url  TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS courses (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		faculty_id  TEXT NOT NULL REFERENCES users(id),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		course_id         TEXT NOT NULL REFERENCES courses(id),
		start_time        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		duration_seconds  BIGINT NOT NULL,
		lat               DOUBLE PRECISION NOT NULL,
		lng               DOUBLE PRECISION NOT NULL,
		radius_meters     DOUBLE PRECISION NOT NULL,
		topic             TEXT NOT NULL DEFAULT 'General Class',
		stopped_at        TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id              TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL REFERENCES sessions(id),
		student_id      TEXT NOT NULL REFERENCES users(id),
		lat             DOUBLE PRECISION NOT NULL,
		lng             DOUBLE PRECISION NOT NULL,
		occurred_at     TIMESTAMPTZ NOT NULL,
		status          TEXT NOT NULL,
		match_distance  DOUBLE PRECISION,
		image_url       TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_records_student_status
		ON attendance_records(student_id, status, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_course ON sessions(course_id);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		id          BIGSERIAL PRIMARY KEY,
		user_id     TEXT NOT NULL,
		token       TEXT NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		revoked     BOOLEAN NOT NULL DEFAULT FALSE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
