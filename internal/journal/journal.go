// Package journal records ownership transitions of the limiter singleton in
// an embedded SQLite database: elections, registrations, relinquishments,
// and window resets. The journal is control-plane history for operators, not
// rate-limit state; counters themselves are intentionally never persisted.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds written by the supervisor and scheduler.
const (
	KindElected      = "elected"
	KindRegistered   = "registered"
	KindRelinquished = "relinquished"
	KindUnregistered = "unregistered"
	KindRestarted    = "restarted"
	KindWindowReset  = "window_reset"
)

// Event is one journal entry.
type Event struct {
	Time        time.Time
	Kind        string
	NodeID      string
	Incarnation int64
	Detail      string
}

// Recorder is the write-side surface the supervisor depends on. The nop
// implementation keeps the data path allocation-free when journaling is
// disabled.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop is a Recorder that discards all events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	node_id     TEXT NOT NULL,
	incarnation INTEGER NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
`

// Journal is a SQLite-backed Recorder with a read side for the status API.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if necessary) the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, node_id, incarnation, detail) VALUES (?, ?, ?, ?, ?)`,
		ev.Time.UTC().Format(time.RFC3339Nano), ev.Kind, ev.NodeID, ev.Incarnation, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record journal event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT ts, kind, node_id, incarnation, detail FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ts, &ev.Kind, &ev.NodeID, &ev.Incarnation, &ev.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			ev.Time = parsed
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal events: %w", err)
	}
	return events, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
