// Copyright 2026 © The QueryGuard Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit events in SQLite.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a SQLite-backed sink and ensures schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

// OpenSQLiteSink opens (or creates) the database at path and returns a sink
// owning the connection.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	sink, err := NewSQLiteSink(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// Emit stores a single audit event.
func (s *SQLiteSink) Emit(ctx context.Context, event Event) error {
	violations, err := json.Marshal(event.Violations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guardrail_audit_events (
			id, ts, kind, environment, role, caller, session_id,
			decision, query_hash, query_length, violations_json,
			masked_fields, filtered_fields, policy_version, fail_safe, error_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		normalizeTime(event.Timestamp),
		string(event.Kind),
		event.Environment,
		event.Role,
		event.Caller,
		event.SessionID,
		event.Decision,
		event.QueryHash,
		event.QueryLength,
		string(violations),
		event.MaskedFields,
		event.FilteredFields,
		event.PolicyVersion,
		event.FailSafe,
		event.Error,
	)
	return err
}

// Close closes the underlying database.
func (s *SQLiteSink) Close(context.Context) error {
	return s.db.Close()
}

// Filter limits audit event queries.
type Filter struct {
	Kind      Kind
	Role      string
	Decision  string
	QueryHash string
	Limit     int
}

// List returns stored events matching the filter, oldest first.
func (s *SQLiteSink) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, ts, kind, environment, role, caller, session_id,
		       decision, query_hash, query_length, violations_json,
		       masked_fields, filtered_fields, policy_version, fail_safe, error_text
		FROM guardrail_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", string(filter.Kind))
	}
	if filter.Role != "" {
		addFilter("role = ?", filter.Role)
	}
	if filter.Decision != "" {
		addFilter("decision = ?", filter.Decision)
	}
	if filter.QueryHash != "" {
		addFilter("query_hash = ?", filter.QueryHash)
	}
	query += where + " ORDER BY ts ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event      Event
			kind       string
			ts         sql.NullTime
			violations string
		)
		if err := rows.Scan(
			&event.ID,
			&ts,
			&kind,
			&event.Environment,
			&event.Role,
			&event.Caller,
			&event.SessionID,
			&event.Decision,
			&event.QueryHash,
			&event.QueryLength,
			&violations,
			&event.MaskedFields,
			&event.FilteredFields,
			&event.PolicyVersion,
			&event.FailSafe,
			&event.Error,
		); err != nil {
			return nil, err
		}
		event.Kind = Kind(kind)
		if ts.Valid {
			event.Timestamp = ts.Time
		}
		if violations != "" && violations != "null" {
			if err := json.Unmarshal([]byte(violations), &event.Violations); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS guardrail_audit_events (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			environment TEXT,
			role TEXT,
			caller TEXT,
			session_id TEXT,
			decision TEXT,
			query_hash TEXT,
			query_length INTEGER,
			violations_json TEXT,
			masked_fields INTEGER,
			filtered_fields INTEGER,
			policy_version TEXT,
			fail_safe BOOLEAN,
			error_text TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_guardrail_audit_kind ON guardrail_audit_events(kind);
		CREATE INDEX IF NOT EXISTS idx_guardrail_audit_role ON guardrail_audit_events(role);
		CREATE INDEX IF NOT EXISTS idx_guardrail_audit_hash ON guardrail_audit_events(query_hash);
	`)
	return err
}

func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
