// Package sqlite keeps supervisor lifecycle events in a local SQLite file
// using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/medchat/internal/history"
)

const prefix = "sqlite://"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + history.Table + `(
		occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		event TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		port INTEGER NOT NULL,
		app TEXT NOT NULL,
		started_at TIMESTAMP NULL,
		detail TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ` + history.Table + `_event_idx ON ` + history.Table + `(event)`,
}

type Sink struct {
	db *sql.DB
}

// New opens dsn, which is a file path or ":memory:", optionally prefixed with sqlite://.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if len(dsn) >= len(prefix) && strings.EqualFold(dsn[:len(prefix)], prefix) {
		dsn = dsn[len(prefix):]
	}
	if dsn == "" {
		return nil, errors.New("sqlite history: empty DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite history: %w", err)
	}
	// one connection, or each :memory: connection sees its own database
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite history schema: %w", err)
		}
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	var started sql.NullTime
	if !e.StartedAt.IsZero() {
		started = sql.NullTime{Time: e.StartedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+history.Table+`(occurred_at, event, name, pid, port, app, started_at, detail)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OccurredAt.UTC(), string(e.Type), e.Name, e.PID, e.Port, e.App, started, e.Detail)
	return err
}

// Count reports stored events of type t; an empty t counts everything.
func (s *Sink) Count(ctx context.Context, t history.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+history.Table+` WHERE ? = '' OR event = ?`,
		string(t), string(t)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error { return s.db.Close() }
