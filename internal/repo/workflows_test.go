package repo

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"stateline/internal/db"
	"stateline/internal/domain"
	"stateline/internal/migrate"
)

func testRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}
}

func inTx(t *testing.T, r Repo, fn func(tx *sql.Tx) error) error {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func seedWorkflow(t *testing.T, r Repo) domain.Workflow {
	t.Helper()
	from := "s1"
	wf := domain.Workflow{
		ID: "wf1", OrgID: "org", Name: "Flow", IsActive: true, IsDefault: true,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Statuses: []domain.Status{
			{ID: "s1", WorkflowID: "wf1", Name: "Open", Category: domain.CategoryTodo, IsInitial: true, IsActive: true, Position: 0},
			{ID: "s2", WorkflowID: "wf1", Name: "Done", Category: domain.CategoryDone, IsActive: true, Position: 1},
		},
		Transitions: []domain.Transition{
			{
				ID: "t1", WorkflowID: "wf1", Name: "Finish", FromStatusID: &from, ToStatusID: "s2",
				Validators: domain.ValidatorSet{ResolutionRequired: true},
				IsActive:   true,
			},
		},
	}
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.SaveWorkflowTx(context.Background(), tx, wf)
	})
	if err != nil {
		t.Fatalf("save workflow: %v", err)
	}
	return wf
}

func TestWorkflowRoundTrip(t *testing.T) {
	r := testRepo(t)
	seedWorkflow(t, r)
	ctx := context.Background()

	wf, err := r.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(wf.Statuses) != 2 || len(wf.Transitions) != 1 {
		t.Fatalf("got %d statuses, %d transitions", len(wf.Statuses), len(wf.Transitions))
	}
	tr := wf.Transitions[0]
	if !tr.Validators.ResolutionRequired {
		t.Error("validator set lost in json round trip")
	}
	if tr.FromStatusID == nil || *tr.FromStatusID != "s1" {
		t.Errorf("from = %v", tr.FromStatusID)
	}
	if !tr.Conditions.IsZero() || !tr.PostFunctions.IsZero() {
		t.Error("empty sets should decode as zero")
	}

	if _, err := r.GetWorkflow(ctx, "missing"); err != ErrNotFound {
		t.Errorf("missing workflow: %v", err)
	}

	def, err := r.DefaultWorkflow(ctx, "org")
	if err != nil || def.ID != "wf1" {
		t.Errorf("default workflow = %v, %v", def.ID, err)
	}
}

func TestInsertStatusInvariants(t *testing.T) {
	r := testRepo(t)
	seedWorkflow(t, r)
	ctx := context.Background()

	// Second initial status in the same workflow is rejected.
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertStatusTx(ctx, tx, domain.Status{
			ID: "s3", WorkflowID: "wf1", Name: "Also Initial", Category: domain.CategoryTodo, IsInitial: true, IsActive: true,
		})
	})
	if err == nil || !strings.Contains(err.Error(), "already has an initial status") {
		t.Errorf("err = %v", err)
	}

	// Duplicate name in the same workflow is rejected.
	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertStatusTx(ctx, tx, domain.Status{
			ID: "s4", WorkflowID: "wf1", Name: "Open", Category: domain.CategoryTodo, IsActive: true,
		})
	})
	if err == nil || !strings.Contains(err.Error(), "already has a status named") {
		t.Errorf("err = %v", err)
	}

	// Invalid category is rejected.
	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertStatusTx(ctx, tx, domain.Status{
			ID: "s5", WorkflowID: "wf1", Name: "Weird", Category: "parked", IsActive: true,
		})
	})
	if err == nil || !strings.Contains(err.Error(), "invalid category") {
		t.Errorf("err = %v", err)
	}
}

func TestInsertTransitionEndpoints(t *testing.T) {
	r := testRepo(t)
	seedWorkflow(t, r)
	ctx := context.Background()

	ghost := "nope"
	err := inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertTransitionTx(ctx, tx, domain.Transition{
			ID: "t2", WorkflowID: "wf1", Name: "Ghost", FromStatusID: &ghost, ToStatusID: "s2", IsActive: true,
		})
	})
	if err == nil || !strings.Contains(err.Error(), "not in workflow") {
		t.Errorf("err = %v", err)
	}

	err = inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertTransitionTx(ctx, tx, domain.Transition{
			ID: "t3", WorkflowID: "wf1", Name: "Ghost to", ToStatusID: "nope", IsActive: true,
		})
	})
	if err == nil || !strings.Contains(err.Error(), "not in workflow") {
		t.Errorf("err = %v", err)
	}
}

func TestDeactivateWorkflow(t *testing.T) {
	r := testRepo(t)
	seedWorkflow(t, r)
	ctx := context.Background()

	if err := r.DeactivateWorkflow(ctx, "wf1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	wf, err := r.GetWorkflow(ctx, "wf1")
	if err != nil {
		t.Fatal(err)
	}
	if wf.IsActive {
		t.Error("workflow still active")
	}
	if err := r.DeactivateWorkflow(ctx, "missing"); err != ErrNotFound {
		t.Errorf("missing: %v", err)
	}
}

func TestSchemeUpsert(t *testing.T) {
	r := testRepo(t)
	seedWorkflow(t, r)
	ctx := context.Background()

	if err := r.InsertProject(ctx, domain.Project{ID: "p1", Key: "PROJ", Name: "P", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatal(err)
	}
	save := func(s domain.Scheme) error {
		return inTx(t, r, func(tx *sql.Tx) error { return r.SaveSchemeTx(ctx, tx, s) })
	}
	if err := save(domain.Scheme{ProjectID: "p1", Name: "one", DefaultWorkflowID: "wf1", IsActive: true}); err != nil {
		t.Fatal(err)
	}
	if err := save(domain.Scheme{
		ProjectID: "p1", Name: "two", DefaultWorkflowID: "wf1",
		Mappings: map[string]string{"bug": "wf1"}, IsActive: true,
	}); err != nil {
		t.Fatalf("scheme upsert: %v", err)
	}

	s, err := r.GetScheme(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "two" || s.Mappings["bug"] != "wf1" {
		t.Errorf("scheme = %+v", s)
	}
	if _, err := r.GetScheme(ctx, "p2"); err != ErrNotFound {
		t.Errorf("missing scheme: %v", err)
	}
}
