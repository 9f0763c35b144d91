// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package history keeps a durable log of service lifecycle events.
//
// Every start, stop, and failure is appended to a SQLite database in
// the state directory so `onionhost history` can show what the engine
// did and when, across restarts of both the engine and the machine.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/onionhost-foundation/onionhost/lib/sqlitepool"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	// Started means the hidden service reached Live.
	Started Kind = "started"
	// Stopped means a clean shutdown completed.
	Stopped Kind = "stopped"
	// Failed means a start attempt ended in an error.
	Failed Kind = "failed"
	// TimedOut means bootstrap did not reach 100% in time.
	TimedOut Kind = "timed-out"
)

// Event is one row of the lifecycle log.
type Event struct {
	ID           int64
	Time         time.Time
	Kind         Kind
	Method       string
	TargetPort   int
	OnionAddress string
	Detail       string
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    occurred_at   TEXT    NOT NULL,
    kind          TEXT    NOT NULL,
    method        TEXT    NOT NULL DEFAULT '',
    target_port   INTEGER NOT NULL DEFAULT 0,
    onion_address TEXT    NOT NULL DEFAULT '',
    detail        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS events_occurred_at ON events (occurred_at);
`

// Log is the lifecycle event log. Safe for concurrent use.
type Log struct {
	pool *sqlitepool.Pool
}

// Open opens (creating if needed) the event log at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Log{pool: pool}, nil
}

// Close releases the underlying pool.
func (l *Log) Close() error {
	return l.pool.Close()
}

// Append records one event. Event.Time zero means now; ID is ignored.
func (l *Log) Append(ctx context.Context, event Event) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer l.pool.Put(conn)

	when := event.Time
	if when.IsZero() {
		when = time.Now()
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO events (occurred_at, kind, method, target_port, onion_address, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				when.UTC().Format(time.RFC3339),
				string(event.Kind),
				event.Method,
				event.TargetPort,
				event.OnionAddress,
				event.Detail,
			},
		})
	if err != nil {
		return fmt.Errorf("appending %s event: %w", event.Kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer l.pool.Put(conn)

	var events []Event
	err = sqlitex.Execute(conn, `
		SELECT id, occurred_at, kind, method, target_port, onion_address, detail
		FROM events ORDER BY id DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				when, err := time.Parse(time.RFC3339, stmt.ColumnText(1))
				if err != nil {
					return fmt.Errorf("row %d: bad timestamp %q: %w",
						stmt.ColumnInt64(0), stmt.ColumnText(1), err)
				}
				events = append(events, Event{
					ID:           stmt.ColumnInt64(0),
					Time:         when,
					Kind:         Kind(stmt.ColumnText(2)),
					Method:       stmt.ColumnText(3),
					TargetPort:   stmt.ColumnInt(4),
					OnionAddress: stmt.ColumnText(5),
					Detail:       stmt.ColumnText(6),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}
