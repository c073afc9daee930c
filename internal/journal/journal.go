// Package journal keeps an append-only SQLite log of session events
// (joins, leaves and chat lines) for the session history API.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds
const (
	KindJoin  = "join"
	KindLeave = "leave"
	KindChat  = "chat"
)

// Event is one journal row
type Event struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	ParticipantID string          `json:"participant_id"`
	Kind          string          `json:"kind"`
	Body          json.RawMessage `json:"body,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Store wraps the SQLite database
type Store struct {
	db *sql.DB
}

const migrationSessionEvents = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	body TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, id);
`

// Open creates or opens the journal at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(migrationSessionEvents); err != nil {
		return fmt.Errorf("journal migration failed: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends ev. A zero CreatedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	var body any
	if len(ev.Body) > 0 {
		body = string(ev.Body)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, participant_id, kind, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, ev.ParticipantID, ev.Kind, body, ev.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Kind, err)
	}
	return nil
}

// List returns the latest limit events of a session, oldest first
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, participant_id, kind, body, created_at FROM (
			SELECT * FROM session_events WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			ev   Event
			body sql.NullString
			ts   int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ParticipantID, &ev.Kind, &body, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if body.Valid {
			ev.Body = json.RawMessage(body.String)
		}
		ev.CreatedAt = time.Unix(0, ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}
