package events

import (
	"context"
	"testing"
	"time"

	"stateline/internal/db"
	"stateline/internal/migrate"
)

func testWriter(t *testing.T) Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Writer{
		DB:  conn,
		Now: func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) },
	}
}

func (w Writer) append(t *testing.T, evtType, projectID string) {
	t.Helper()
	ctx := context.Background()
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evtType, projectID, "issue", "i1", "dev@example.com", EventPayload{"n": 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestAppendAndTail(t *testing.T) {
	w := testWriter(t)
	w.append(t, "issue.created", "p1")
	w.append(t, "issue.transitioned", "p1")
	w.append(t, "workflow.saved", "")

	evts, err := w.Tail(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("got %d events", len(evts))
	}
	// Newest first.
	if evts[0].Type != "workflow.saved" || evts[2].Type != "issue.created" {
		t.Errorf("order = %s, %s, %s", evts[0].Type, evts[1].Type, evts[2].Type)
	}
	if evts[0].TS != "2026-03-15T12:00:00Z" {
		t.Errorf("ts = %s", evts[0].TS)
	}

	scoped, err := w.Tail(context.Background(), "p1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 2 {
		t.Errorf("project scope returned %d events", len(scoped))
	}

	one, err := w.Tail(context.Background(), "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 {
		t.Errorf("limit 1 returned %d events", len(one))
	}
}

func TestEventRollbackDiscards(t *testing.T) {
	w := testWriter(t)
	ctx := context.Background()
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(ctx, tx, "issue.created", "p1", "issue", "i1", "dev@example.com", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	tx.Rollback()

	evts, err := w.Tail(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Errorf("rolled back event persisted: %v", evts)
	}
}
