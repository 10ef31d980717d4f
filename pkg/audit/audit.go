// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package audit persists an append-only event trail to SQLite.
package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/teradata-labs/cadenza/internal/sqlitedriver" // registers "sqlite3"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// Sink records orchestration events durably.
type Sink interface {
	Record(event types.Event) error
	Close() error
}

// Row is one persisted audit entry.
type Row struct {
	ID         int64         `json:"id"`
	EventID    string        `json:"event_id"`
	Trigger    types.Trigger `json:"trigger"`
	WorkflowID string        `json:"workflow_id"`
	AgentID    string        `json:"agent_id,omitempty"`
	Payload    string        `json:"payload,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SQLiteSink writes audit rows to a SQLite database.
type SQLiteSink struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT NOT NULL,
	event_trigger TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	agent_id    TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_workflow ON audit_events (workflow_id, id);
`

// NewSQLiteSink opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, types.Wrap(types.KindIOError, err, "open audit database %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, types.Wrap(types.KindIOError, err, "initialize audit schema")
	}
	return &SQLiteSink{db: db}, nil
}

// Record appends one event.
func (s *SQLiteSink) Record(event types.Event) error {
	payload := ""
	if event.Payload != nil {
		if blob, err := json.Marshal(event.Payload); err == nil {
			payload = string(blob)
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO audit_events (event_id, event_trigger, workflow_id, agent_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, string(event.Trigger), event.WorkflowID, event.AgentID, payload, event.Timestamp,
	)
	if err != nil {
		return types.Wrap(types.KindIOError, err, "record audit event %s", event.EventID)
	}
	return nil
}

// Workflow returns the audit trail for one workflow in insertion order.
func (s *SQLiteSink) Workflow(workflowID string) ([]Row, error) {
	rows, err := s.db.Query(
		`SELECT id, event_id, event_trigger, workflow_id, agent_id, payload, created_at
		 FROM audit_events WHERE workflow_id = ? ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, types.Wrap(types.KindIOError, err, "query audit trail for %s", workflowID)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.EventID, &r.Trigger, &r.WorkflowID, &r.AgentID, &r.Payload, &r.CreatedAt); err != nil {
			return nil, types.Wrap(types.KindIOError, err, "scan audit row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// NopSink discards everything. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) Record(types.Event) error { return nil }
func (NopSink) Close() error             { return nil }
