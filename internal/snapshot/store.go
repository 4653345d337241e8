// Package snapshot persists session documents so a reloaded host can resume
// authority, and stores each client's saved-session preferences. Documents
// are lz4-compressed at rest and keyed by a blake3 content hash so rewriting
// an unchanged document is free.
package snapshot

import (
	"bytes"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// ErrNotFound reports a missing snapshot or preference row.
var ErrNotFound = errors.New("snapshot: not found")

// Store wraps the sqlite database holding snapshots and preferences.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	session_id INTEGER PRIMARY KEY,
	hash TEXT NOT NULL,
	doc BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS saved_sessions (
	session_id INTEGER PRIMARY KEY,
	role TEXT NOT NULL,
	player_id TEXT NOT NULL DEFAULT '',
	player_name TEXT NOT NULL DEFAULT '',
	last_accessed INTEGER NOT NULL
);
`

// Open opens (or creates) the store at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if path == ":memory:" {
		// Each pool connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the document for a session. It reports whether anything was
// written; an unchanged content hash skips the write entirely.
func (s *Store) Save(sessionID int64, doc []byte) (bool, error) {
	sum := blake3.Sum256(doc)
	hash := hex.EncodeToString(sum[:])

	var existing string
	err := s.db.QueryRow(`SELECT hash FROM snapshots WHERE session_id = ?`, sessionID).Scan(&existing)
	if err == nil && existing == hash {
		return false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("read snapshot hash: %w", err)
	}

	compressed, err := compress(doc)
	if err != nil {
		return false, err
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshots (session_id, hash, doc, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET hash = excluded.hash, doc = excluded.doc, updated_at = excluded.updated_at`,
		sessionID, hash, compressed, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	return true, nil
}

// Load returns the stored document for a session.
func (s *Store) Load(sessionID int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT doc FROM snapshots WHERE session_id = ?`, sessionID).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return decompress(compressed)
}

// Delete removes the snapshot for a session. Missing rows are not an error.
func (s *Store) Delete(sessionID int64) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Preference is one saved-session entry: enough for a client to offer
// "rejoin as X" without asking again.
type Preference struct {
	SessionID    int64
	Role         string
	PlayerID     string
	PlayerName   string
	LastAccessed time.Time
}

// Roles stored in a Preference.
const (
	RoleHost   = "host"
	RolePlayer = "player"
)

// SavePreference upserts a saved-session entry, refreshing last_accessed.
func (s *Store) SavePreference(p Preference) error {
	at := p.LastAccessed
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO saved_sessions (session_id, role, player_id, player_name, last_accessed) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET role = excluded.role, player_id = excluded.player_id,
			player_name = excluded.player_name, last_accessed = excluded.last_accessed`,
		p.SessionID, p.Role, p.PlayerID, p.PlayerName, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

// Preference returns the saved entry for one session.
func (s *Store) Preference(sessionID int64) (Preference, error) {
	var p Preference
	var at int64
	err := s.db.QueryRow(`SELECT session_id, role, player_id, player_name, last_accessed
		FROM saved_sessions WHERE session_id = ?`, sessionID).
		Scan(&p.SessionID, &p.Role, &p.PlayerID, &p.PlayerName, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	if err != nil {
		return Preference{}, fmt.Errorf("read preference: %w", err)
	}
	p.LastAccessed = time.UnixMilli(at)
	return p, nil
}

// ListPreferences returns all saved entries, most recently accessed first.
func (s *Store) ListPreferences() ([]Preference, error) {
	rows, err := s.db.Query(`SELECT session_id, role, player_id, player_name, last_accessed
		FROM saved_sessions ORDER BY last_accessed DESC`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		var at int64
		if err := rows.Scan(&p.SessionID, &p.Role, &p.PlayerID, &p.PlayerName, &at); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.LastAccessed = time.UnixMilli(at)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// DeletePreference removes the saved entry for one session.
func (s *Store) DeletePreference(sessionID int64) error {
	if _, err := s.db.Exec(`DELETE FROM saved_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}

func compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func decompress(src []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(src))
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return out, nil
}
