// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package localstate

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/chatwire/backend"
)

// =============================================================================
// STORE
// =============================================================================

// Keys in the kv table.
const (
	keyLastSession = "last_session_id"
	keyAnonymousID = "anonymous_id"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_cache (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	last_message_at TIMESTAMP NOT NULL
);
`

// Store is a SQLite-backed client-local state store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Single writer; the store is touched from a handful of goroutines
	// but never under load.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// KV STATE
// =============================================================================

// LastSessionID returns the persisted most-recent session id, or "" when
// none is stored.
func (s *Store) LastSessionID() string {
	return s.getKV(keyLastSession)
}

// SetLastSessionID persists the most-recent session id. An empty id
// clears it (the deferred-creation state has no active session).
func (s *Store) SetLastSessionID(id string) error {
	if id == "" {
		_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, keyLastSession)
		return err
	}
	return s.setKV(keyLastSession, id)
}

// AnonymousID returns the persisted anonymous identity, generating and
// storing one on first use. The id survives restarts so an anonymous
// visitor keeps their sessions.
func (s *Store) AnonymousID() (string, error) {
	if id := s.getKV(keyAnonymousID); id != "" {
		return id, nil
	}

	id := "anon_" + uuid.NewString()
	if err := s.setKV(keyAnonymousID, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) getKV(key string) string {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		// Missing rows and read failures both degrade to "nothing
		// stored"; this state is a convenience, never authoritative.
		return ""
	}
	return value
}

func (s *Store) setKV(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// =============================================================================
// SESSION CACHE
// =============================================================================

// CacheSessions replaces the cached session list.
func (s *Store) CacheSessions(sessions []backend.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_cache`); err != nil {
		return err
	}

	for _, sess := range sessions {
		_, err := tx.Exec(
			`INSERT INTO session_cache (id, title, created_at, last_message_at) VALUES (?, ?, ?, ?)`,
			sess.ID, sess.Title, sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			sess.LastMessageAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// CachedSessions returns the cached session list, most recent first.
// Degrades to empty on any error.
func (s *Store) CachedSessions() []backend.Session {
	rows, err := s.db.Query(
		`SELECT id, title, created_at, last_message_at
		 FROM session_cache ORDER BY last_message_at DESC`)
	if err != nil {
		return []backend.Session{}
	}
	defer rows.Close()

	var sessions []backend.Session
	for rows.Next() {
		var sess backend.Session
		var created, last string
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &last); err != nil {
			continue
		}
		sess.CreatedAt = parseTime(created)
		sess.LastMessageAt = parseTime(last)
		sessions = append(sessions, sess)
	}
	if sessions == nil {
		sessions = []backend.Session{}
	}
	return sessions
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
