package journal

import (
	"cmp"
	"database/sql"
	"fmt"
	"slices"
)

// migration is one schema step. Versions are applied in ascending order and
// recorded in schema_migrations.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "sweeps table",
		stmts: []string{`
CREATE TABLE IF NOT EXISTS sweeps (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  dir TEXT NOT NULL,
  started_at TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  scanned INTEGER NOT NULL,
  temp_removed INTEGER NOT NULL,
  expired_removed INTEGER NOT NULL,
  leases_reclaimed INTEGER NOT NULL,
  stale_locks_removed INTEGER NOT NULL,
  bytes_freed INTEGER NOT NULL,
  errors INTEGER NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_sweeps_dir_started ON sweeps(dir, started_at)`,
		},
	},
	{
		version: 2,
		name:    "prune index",
		stmts:   []string{`CREATE INDEX IF NOT EXISTS idx_sweeps_started ON sweeps(started_at)`},
	},
}

func currentVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	pending := slices.Clone(migrations)
	slices.SortFunc(pending, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	for _, m := range pending {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))`, m.version); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}
