// Package store persists the assistant's local state — the conversation turn
// log, the backend session id, and the per-install user id — across restarts.
// Each piece is independently clearable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	keySessionID = "session_id"
	keyUserID    = "user_id"
)

// ErrNotFound is returned when a requested value has never been stored.
var ErrNotFound = errors.New("store: not found")

// Store is a SQLite-backed key/value and turn-log store.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}

	schema := `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
	position INTEGER PRIMARY KEY,
	payload  TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionID returns the persisted session id, or ErrNotFound.
func (s *Store) SessionID() (string, error) {
	return s.get(keySessionID)
}

// SetSessionID persists the session id.
func (s *Store) SetSessionID(id string) error {
	return s.set(keySessionID, id)
}

// ClearSessionID removes the persisted session id.
func (s *Store) ClearSessionID() error {
	return s.delete(keySessionID)
}

// UserID returns the persisted user id, or ErrNotFound.
func (s *Store) UserID() (string, error) {
	return s.get(keyUserID)
}

// SetUserID persists the user id.
func (s *Store) SetUserID(id string) error {
	return s.set(keyUserID, id)
}

// ClearUserID removes the persisted user id.
func (s *Store) ClearUserID() error {
	return s.delete(keyUserID)
}

// SaveTurns replaces the persisted turn log with the given ordered JSON
// payloads, one per turn.
func (s *Store) SaveTurns(payloads []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM turns"); err != nil {
		return fmt.Errorf("store: clear turns: %w", err)
	}
	for i, p := range payloads {
		if _, err := tx.Exec("INSERT INTO turns (position, payload) VALUES (?, ?)", i, p); err != nil {
			return fmt.Errorf("store: insert turn %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadTurns returns the persisted turn payloads in order.
func (s *Store) LoadTurns() ([]string, error) {
	rows, err := s.db.Query("SELECT payload FROM turns ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("store: load turns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClearTurns empties the persisted turn log.
func (s *Store) ClearTurns() error {
	_, err := s.db.Exec("DELETE FROM turns")
	return err
}

func (s *Store) get(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}
