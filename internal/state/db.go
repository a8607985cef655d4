// Package state provides the SQLite-backed coordination store for Tandem:
// the work ledger, the progress log, and the review ledger. All mutation
// happens through named operations; there is no raw read-modify-write path
// into the underlying records.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with Tandem-specific operations.
// Each work target has exactly one database; the sequential execution model
// means there is never more than one logical writer.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the path of the coordination database inside a state directory.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, "tandem.db")
}

// Open opens the coordination database at the given path, creating parent
// directories if needed. WAL mode keeps reads consistent while a transaction
// is in flight.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1WorkLedger},
		{2, migrationV2ProgressLog},
		{3, migrationV3ReviewLedger},
		{4, migrationV4SessionReviewLink},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// work_items and id_counters: rows are only ever inserted, plus the two
// designated pass/fail updates. Counters never rewind.
const migrationV1WorkLedger = `
CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	category TEXT,
	name TEXT NOT NULL,
	description TEXT,
	steps TEXT,
	passes INTEGER NOT NULL DEFAULT 0,
	source TEXT,
	created_at DATETIME NOT NULL,
	passed_at DATETIME,
	failed_at DATETIME,
	history TEXT
);

CREATE INDEX IF NOT EXISTS idx_work_items_kind ON work_items(kind);
CREATE INDEX IF NOT EXISTS idx_work_items_passes ON work_items(passes);

CREATE TABLE IF NOT EXISTS id_counters (
	kind TEXT PRIMARY KEY,
	next INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS checkouts (
	token TEXT PRIMARY KEY,
	item_ids TEXT NOT NULL,
	branch TEXT,
	created_at DATETIME NOT NULL,
	released_at DATETIME
);
`

// sessions is append-only; status holds the single in-place-mutated row.
const migrationV2ProgressLog = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id INTEGER PRIMARY KEY,
	agent_type TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME NOT NULL,
	summary TEXT NOT NULL,
	items_touched TEXT,
	outcome TEXT NOT NULL,
	commit_from TEXT,
	commit_to TEXT,
	commits TEXT
);

CREATE TABLE IF NOT EXISTS status (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	project_name TEXT NOT NULL,
	current_phase TEXT NOT NULL,
	current_items TEXT,
	current_branch TEXT,
	features_completed INTEGER NOT NULL DEFAULT 0,
	features_passing INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	head_commit TEXT
);
`

const migrationV3ReviewLedger = `
CREATE TABLE IF NOT EXISTS reviews (
	review_id INTEGER PRIMARY KEY,
	agent_type TEXT NOT NULL,
	item_ids TEXT,
	branch TEXT NOT NULL,
	verdict TEXT NOT NULL,
	forced INTEGER NOT NULL DEFAULT 0,
	issues TEXT,
	summary TEXT NOT NULL,
	commit_from TEXT,
	commit_to TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fixes (
	fix_id INTEGER PRIMARY KEY,
	review_id INTEGER NOT NULL REFERENCES reviews(review_id),
	item_ids TEXT,
	branch TEXT NOT NULL,
	issues_fixed TEXT,
	issues_deferred TEXT,
	tests_added TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fixes_review_id ON fixes(review_id);
`

// A review session's row names the review it carried, so resumption can
// tell an orphaned verdict from one already folded into the log.
const migrationV4SessionReviewLink = `
ALTER TABLE sessions ADD COLUMN review_id INTEGER NOT NULL DEFAULT 0;
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction. Every logical
// mutation in this package is a single transaction, so a crash between two
// writes never leaves the store half-updated.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
