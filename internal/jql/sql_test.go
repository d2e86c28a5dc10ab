package jql

import (
	"strings"
	"testing"
	"time"
)

func compileQuery(t *testing.T, query string) (string, []any) {
	t.Helper()
	pred, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", query, err)
	}
	where, args, err := ToSQL(pred, evalContext())
	if err != nil {
		t.Fatalf("ToSQL(%q): %v", query, err)
	}
	return where, args
}

func TestToSQLComparison(t *testing.T) {
	where, args := compileQuery(t, `status = "Open"`)
	if where != "issues.status_name = ?" {
		t.Errorf("where = %s", where)
	}
	if len(args) != 1 || args[0] != "Open" {
		t.Errorf("args = %v", args)
	}
}

func TestToSQLNegation(t *testing.T) {
	where, _ := compileQuery(t, `status != "Open"`)
	if where != "NOT (issues.status_name = ?)" {
		t.Errorf("where = %s", where)
	}
}

func TestToSQLEmptyMembership(t *testing.T) {
	where, args := compileQuery(t, `status IN ()`)
	if where != "1=0" || len(args) != 0 {
		t.Errorf("where = %s, args = %v", where, args)
	}
}

func TestToSQLMembership(t *testing.T) {
	where, args := compileQuery(t, `priority IN ("High", "Critical")`)
	if where != "issues.priority IN (?, ?)" {
		t.Errorf("where = %s", where)
	}
	if len(args) != 2 {
		t.Errorf("args = %v", args)
	}
}

func TestToSQLNullCheck(t *testing.T) {
	where, _ := compileQuery(t, `assignee IS EMPTY`)
	if where != "(issues.assignee_email IS NULL OR issues.assignee_email = '')" {
		t.Errorf("where = %s", where)
	}
}

func TestToSQLRelativeDateSnapshot(t *testing.T) {
	where, args := compileQuery(t, `created >= -7d`)
	if !strings.Contains(where, "issues.created_at >= ?") {
		t.Errorf("where = %s", where)
	}
	want := evalContext().now().AddDate(0, 0, -7).Format(time.RFC3339)
	if len(args) != 1 || args[0] != want {
		t.Errorf("args = %v, want [%s]", args, want)
	}
}

func TestToSQLDateLiteralNormalized(t *testing.T) {
	_, args := compileQuery(t, `created >= "2026-03-01"`)
	if len(args) != 1 || args[0] != "2026-03-01T00:00:00Z" {
		t.Errorf("args = %v", args)
	}
}

func TestToSQLCurrentUser(t *testing.T) {
	_, args := compileQuery(t, `assignee = currentUser()`)
	if len(args) != 1 || args[0] != "dev@example.com" {
		t.Errorf("args = %v", args)
	}

	// No user in context: the clause can never match.
	pred, err := ParseQuery(`assignee = currentUser()`)
	if err != nil {
		t.Fatal(err)
	}
	ctx := evalContext()
	ctx.User = nil
	where, _, err := ToSQL(pred, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if where != "1=0" {
		t.Errorf("where = %s, want 1=0", where)
	}
}

func TestToSQLNumericCast(t *testing.T) {
	where, args := compileQuery(t, `priority < 10`)
	if !strings.Contains(where, "CAST(issues.priority AS REAL) < ?") {
		t.Errorf("where = %s", where)
	}
	// The cast is guarded: non-numeric text must not coerce to 0.
	if !strings.Contains(where, "NOT GLOB '*[^0-9.]*'") {
		t.Errorf("where = %s, want numeric shape guard", where)
	}
	if len(args) != 1 || args[0] != 10.0 {
		t.Errorf("args = %v", args)
	}
}

func TestToSQLDateOrderedAgainstNonDate(t *testing.T) {
	where, args := compileQuery(t, `created > "not a date"`)
	if where != "1=0" || len(args) != 0 {
		t.Errorf("where = %s, args = %v", where, args)
	}
}

func TestToSQLMembershipDateNormalized(t *testing.T) {
	where, args := compileQuery(t, `due IN ("2026-03-20", "2026-03-21T06:00:00Z")`)
	if where != "issues.due_date IN (?, ?)" {
		t.Errorf("where = %s", where)
	}
	if len(args) != 2 || args[0] != "2026-03-20T00:00:00Z" || args[1] != "2026-03-21T06:00:00Z" {
		t.Errorf("args = %v", args)
	}
}

func TestToSQLLabels(t *testing.T) {
	where, _ := compileQuery(t, `labels = "backend"`)
	if !strings.Contains(where, "issue_labels") || !strings.Contains(where, "il.label = ?") {
		t.Errorf("where = %s", where)
	}
	where, _ = compileQuery(t, `labels IS EMPTY`)
	if !strings.HasPrefix(where, "NOT EXISTS") {
		t.Errorf("where = %s", where)
	}

	pred, err := ParseQuery(`labels > "a"`)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ToSQL(pred, evalContext()); err == nil {
		t.Error("ordered comparison on labels should not compile")
	}
}

func TestToSQLMatchAll(t *testing.T) {
	where, args := compileQuery(t, ``)
	if where != "1=1" || len(args) != 0 {
		t.Errorf("where = %s, args = %v", where, args)
	}
}

func TestToSQLBooleanShape(t *testing.T) {
	where, args := compileQuery(t, `status = "Open" AND priority = "High" OR type = "Bug"`)
	want := "((issues.status_name = ? AND issues.priority = ?) OR issues.type_name = ?)"
	if where != want {
		t.Errorf("where = %s\nwant  %s", where, want)
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}
