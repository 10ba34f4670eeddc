// Package statedb persists the workspace session registry and UI preferences
// in a SQLite database. Thread-safe within one process; multiple processes
// share the file via WAL mode and a busy timeout, which is what lets a second
// workspace instance resume the same sessions.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for session-registry persistence.
type StateDB struct {
	db   *sql.DB
	path string
}

// SessionRow is one registered session: a server-assigned id, its display
// name, and its position in the ordered list.
type SessionRow struct {
	SessionID string
	Name      string
	Position  int
}

// Open creates or opens a SQLite database at dbPath with WAL mode and a busy
// timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db, path: dbPath}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the database file path (used for change watching).
func (s *StateDB) Path() string {
	return s.path
}

// Migrate creates tables if they don't exist.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			position   INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create sessions: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS prefs (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create prefs: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statedb: commit migrate: %w", err)
	}
	return nil
}

// ReplaceSessions atomically rewrites the whole ordered session list.
// Positions are taken from slice order, not from the rows' Position fields.
func (s *StateDB) ReplaceSessions(rows []SessionRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("statedb: clear sessions: %w", err)
	}

	now := time.Now().UTC()
	for i, row := range rows {
		if _, err := tx.Exec(
			`INSERT INTO sessions (session_id, name, position, updated_at) VALUES (?, ?, ?, ?)`,
			row.SessionID, row.Name, i, now,
		); err != nil {
			return fmt.Errorf("statedb: insert session %s: %w", row.SessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statedb: commit replace: %w", err)
	}
	return nil
}

// ListSessions returns all registered sessions ordered by position.
func (s *StateDB) ListSessions() ([]SessionRow, error) {
	rows, err := s.db.Query(
		`SELECT session_id, name, position FROM sessions ORDER BY position ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("statedb: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.Name, &r.Position); err != nil {
			return nil, fmt.Errorf("statedb: scan session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RenameSession updates the display name for a session id.
func (s *StateDB) RenameSession(sessionID, name string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET name = ?, updated_at = ? WHERE session_id = ?`,
		name, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("statedb: rename session: %w", err)
	}
	return nil
}

// DeleteSession removes a session row. Deleting an unknown id is a no-op.
func (s *StateDB) DeleteSession(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("statedb: delete session: %w", err)
	}
	return nil
}

// SetPref stores a UI preference value under key.
func (s *StateDB) SetPref(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("statedb: set pref %s: %w", key, err)
	}
	return nil
}

// GetPref returns a preference value and whether it was present.
func (s *StateDB) GetPref(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statedb: get pref %s: %w", key, err)
	}
	return value, true, nil
}
