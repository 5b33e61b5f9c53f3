// Package journal keeps a SQLite log of spool maintenance sweeps. It is an
// audit trail only; spool coordination never reads it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	maxOpenConns    = 1
	maxIdleConns    = 1
	connMaxLifetime = 5 * time.Minute

	defaultRecentLimit = 20
	timeLayout         = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one recorded sweep.
type Entry struct {
	ID                int64         `json:"id" yaml:"id"`
	Dir               string        `json:"dir" yaml:"dir"`
	StartedAt         time.Time     `json:"started_at" yaml:"started_at"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
	Scanned           int           `json:"scanned" yaml:"scanned"`
	TempRemoved       int           `json:"temp_removed" yaml:"temp_removed"`
	ExpiredRemoved    int           `json:"expired_removed" yaml:"expired_removed"`
	LeasesReclaimed   int           `json:"leases_reclaimed" yaml:"leases_reclaimed"`
	StaleLocksRemoved int           `json:"stale_locks_removed" yaml:"stale_locks_removed"`
	BytesFreed        int64         `json:"bytes_freed" yaml:"bytes_freed"`
	Errors            int           `json:"errors" yaml:"errors"`
}

// Journal wraps the SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens the journal database and bootstraps the schema.
func Open(path string) (*Journal, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record stores a sweep and returns its id.
func (j *Journal) Record(ctx context.Context, e Entry) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
INSERT INTO sweeps (dir, started_at, duration_ms, scanned, temp_removed, expired_removed,
  leases_reclaimed, stale_locks_removed, bytes_freed, errors)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Dir,
		e.StartedAt.UTC().Format(timeLayout),
		e.Duration.Milliseconds(),
		e.Scanned,
		e.TempRemoved,
		e.ExpiredRemoved,
		e.LeasesReclaimed,
		e.StaleLocksRemoved,
		e.BytesFreed,
		e.Errors,
	)
	if err != nil {
		return 0, fmt.Errorf("record sweep: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the latest sweeps, newest first. An empty dir matches all
// spool directories.
func (j *Journal) Recent(ctx context.Context, dir string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, dir, started_at, duration_ms, scanned, temp_removed, expired_removed,
  leases_reclaimed, stale_locks_removed, bytes_freed, errors
FROM sweeps
WHERE (? = '' OR dir = ?)
ORDER BY started_at DESC, id DESC
LIMIT ?`, dir, dir, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var startedAt string
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.Dir, &startedAt, &durationMS, &e.Scanned, &e.TempRemoved,
			&e.ExpiredRemoved, &e.LeasesReclaimed, &e.StaleLocksRemoved, &e.BytesFreed, &e.Errors); err != nil {
			return nil, err
		}
		e.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes sweeps that started before cutoff.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, "DELETE FROM sweeps WHERE started_at < ?", cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune sweeps: %w", err)
	}
	return res.RowsAffected()
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("journal path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}
