// Package store persists run state that must survive process and emulator
// restarts: per-title appointment timestamps (the auto-removal clocks),
// per-task last-run times, and the log of rejected applicants.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS appointments (
	title        TEXT PRIMARY KEY,
	appointed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS task_runs (
	name     TEXT PRIMARY KEY,
	last_run INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rejections (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	alliance    TEXT NOT NULL,
	rejected_at INTEGER NOT NULL
);
`

// Store is a sqlite-backed state file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the state database and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Appointment returns when the title was last (re)appointed. ok is false
// when no appointment has been recorded yet.
func (s *Store) Appointment(title string) (time.Time, bool, error) {
	var unix int64
	err := s.db.QueryRow(`SELECT appointed_at FROM appointments WHERE title = ?`, title).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: appointment %s: %w", title, err)
	}
	return time.Unix(unix, 0), true, nil
}

// SetAppointment records the timestamp a title's holder was appointed.
func (s *Store) SetAppointment(title string, t time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO appointments (title, appointed_at) VALUES (?, ?)
		 ON CONFLICT(title) DO UPDATE SET appointed_at = excluded.appointed_at`,
		title, t.Unix())
	if err != nil {
		return fmt.Errorf("store: set appointment %s: %w", title, err)
	}
	return nil
}

// LastRun returns the persisted last-run time for a task.
func (s *Store) LastRun(name string) (time.Time, bool, error) {
	var unix int64
	err := s.db.QueryRow(`SELECT last_run FROM task_runs WHERE name = ?`, name).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: last run %s: %w", name, err)
	}
	return time.Unix(unix, 0), true, nil
}

// SetLastRun persists a task's last successful run time.
func (s *Store) SetLastRun(name string, t time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO task_runs (name, last_run) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run`,
		name, t.Unix())
	if err != nil {
		return fmt.Errorf("store: set last run %s: %w", name, err)
	}
	return nil
}

// LogRejection appends one rejected applicant to the audit log.
func (s *Store) LogRejection(name, alliance string, t time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO rejections (name, alliance, rejected_at) VALUES (?, ?, ?)`,
		name, alliance, t.Unix())
	if err != nil {
		return fmt.Errorf("store: log rejection: %w", err)
	}
	return nil
}

// RejectionCount reports how many applicants have been rejected, for status
// reporting.
func (s *Store) RejectionCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rejections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: rejection count: %w", err)
	}
	return n, nil
}
