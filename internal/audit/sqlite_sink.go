package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteIndex mirrors audit events into a queryable table so the (future,
// out-of-scope) web UI can range-query by time/operation/allowed without
// scanning the JSONL file. It lives in the broker's database file, on the
// handle cmd/broker shares with the vault and command allowlist.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex prepares the audit_events/alerts tables on db.
func NewSQLiteIndex(db *sql.DB) (*SQLiteIndex, error) {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	ts TEXT NOT NULL,
	operation TEXT NOT NULL,
	channel TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	target TEXT NOT NULL,
	result TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	injected_secrets_json TEXT NOT NULL DEFAULT '[]',
	exit_code INTEGER,
	bytes_transferred INTEGER
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts);
CREATE INDEX IF NOT EXISTS idx_audit_op ON audit_events(operation);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	acknowledged_at TEXT
);
`)
	if err != nil {
		return nil, fmt.Errorf("migrate audit index: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Log inserts one event row. Errors are swallowed per spec.md §7 — the
// JSONL FileSink remains the durable record of truth.
func (s *SQLiteIndex) Log(e Event) {
	secretsJSON, _ := json.Marshal(e.InjectedSecretNames)
	allowed := 0
	if e.Allowed {
		allowed = 1
	}
	_, _ = s.db.Exec(`INSERT OR REPLACE INTO audit_events
		(id, ts, operation, channel, allowed, target, result, duration_ms, injected_secrets_json, exit_code, bytes_transferred)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), e.Operation, e.Channel, allowed,
		e.Target, e.Result, e.DurationMS, string(secretsJSON), e.ExitCode, e.BytesTransferred)
}

// Query returns events in [since, until), most-recent-first, optionally
// filtered by operation name and/or allowed flag.
func (s *SQLiteIndex) Query(since, until time.Time, operation string, allowedFilter *bool) ([]Event, error) {
	q := `SELECT id, ts, operation, channel, allowed, target, result, duration_ms, injected_secrets_json, exit_code, bytes_transferred
	      FROM audit_events WHERE ts >= ? AND ts < ?`
	args := []interface{}{since.Format(time.RFC3339Nano), until.Format(time.RFC3339Nano)}
	if operation != "" {
		q += " AND operation = ?"
		args = append(args, operation)
	}
	if allowedFilter != nil {
		v := 0
		if *allowedFilter {
			v = 1
		}
		q += " AND allowed = ?"
		args = append(args, v)
	}
	q += " ORDER BY ts DESC"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts, secretsJSON string
		var allowed int
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &e.Channel, &allowed, &e.Target, &e.Result,
			&e.DurationMS, &secretsJSON, &e.ExitCode, &e.BytesTransferred); err != nil {
			return nil, err
		}
		e.Allowed = allowed != 0
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		_ = json.Unmarshal([]byte(secretsJSON), &e.InjectedSecretNames)
		out = append(out, e)
	}
	return out, nil
}

// Alert is a derived, pinned record (spec.md §3 "Alert").
type Alert struct {
	ID             string
	EventID        string
	Severity       string
	Title          string
	Description    string
	AcknowledgedAt *time.Time
}

// RaiseAlert inserts an unacknowledged alert.
func (s *SQLiteIndex) RaiseAlert(a Alert) error {
	_, err := s.db.Exec(`INSERT INTO alerts (id, event_id, severity, title, description, acknowledged_at)
		VALUES (?,?,?,?,?,NULL)`, a.ID, a.EventID, a.Severity, a.Title, a.Description)
	return err
}

// Acknowledge marks an alert acknowledged.
func (s *SQLiteIndex) Acknowledge(id string) error {
	_, err := s.db.Exec(`UPDATE alerts SET acknowledged_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// UnacknowledgedAlerts returns alerts with no acknowledged_at, surviving
// daemon restarts by construction (spec.md §3 "Alert" invariant).
func (s *SQLiteIndex) UnacknowledgedAlerts() ([]Alert, error) {
	rows, err := s.db.Query(`SELECT id, event_id, severity, title, description FROM alerts WHERE acknowledged_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.EventID, &a.Severity, &a.Title, &a.Description); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
