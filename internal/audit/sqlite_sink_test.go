package audit

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	idx, err := NewSQLiteIndex(db)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}

func TestSQLiteIndexQueryFiltersByOperationAndAllowed(t *testing.T) {
	idx := openTestIndex(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	idx.Log(Event{ID: "1", Timestamp: now, Operation: "http_request", Result: ResultSuccess, Allowed: true})
	idx.Log(Event{ID: "2", Timestamp: now.Add(time.Minute), Operation: "exec", Result: ResultDenied, Allowed: false})
	idx.Log(Event{ID: "3", Timestamp: now.Add(2 * time.Minute), Operation: "http_request", Result: ResultDenied, Allowed: false})

	got, err := idx.Query(now.Add(-time.Hour), now.Add(time.Hour), "http_request", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 http_request events, got %d", len(got))
	}
	if got[0].ID != "3" {
		t.Errorf("expected most-recent-first ordering, got %q first", got[0].ID)
	}

	allowed := true
	got, err = idx.Query(now.Add(-time.Hour), now.Add(time.Hour), "", &allowed)
	if err != nil {
		t.Fatalf("query allowed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("expected only the allowed event, got %+v", got)
	}
}

func TestSQLiteIndexAlertsSurviveUntilAcknowledged(t *testing.T) {
	idx := openTestIndex(t)

	if err := idx.RaiseAlert(Alert{ID: "a1", EventID: "e1", Severity: "critical", Title: "secret leaked"}); err != nil {
		t.Fatalf("raise alert: %v", err)
	}
	if err := idx.RaiseAlert(Alert{ID: "a2", EventID: "e2", Severity: "warning", Title: "rate limited"}); err != nil {
		t.Fatalf("raise alert: %v", err)
	}

	open, err := idx.UnacknowledgedAlerts()
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 unacknowledged alerts, got %d", len(open))
	}

	if err := idx.Acknowledge("a1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	open, err = idx.UnacknowledgedAlerts()
	if err != nil {
		t.Fatalf("list alerts after ack: %v", err)
	}
	if len(open) != 1 || open[0].ID != "a2" {
		t.Fatalf("expected only a2 to remain open, got %+v", open)
	}
}
