package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stateline/internal/db"
	"stateline/internal/domain"
	"stateline/internal/migrate"
	"stateline/internal/repo"
)

var testClock = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	Engine
	project    domain.Project
	wf         domain.Workflow
	open       domain.Status
	inProgress domain.Status
	done       domain.Status
	start      domain.Transition
	resolve    domain.Transition
	reopen     domain.Transition
	dev        domain.User
	lead       domain.User
	outsider   domain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &fixture{Engine: New(conn)}
	f.Now = func() time.Time { return testClock }
	f.Events.Now = f.Now

	ctx := context.Background()
	f.project = domain.Project{
		ID: "p1", Key: "PROJ", Name: "Project", LeadEmail: "lead@example.com",
		CreatedAt: testClock.Format(time.RFC3339),
	}
	if err := f.Repo.InsertProject(ctx, f.project); err != nil {
		t.Fatalf("insert project: %v", err)
	}

	f.dev = domain.User{Email: "dev@example.com", Name: "Dev"}
	f.lead = domain.User{Email: "lead@example.com", Name: "Lead"}
	f.outsider = domain.User{Email: "guest@example.com", Name: "Guest"}
	for _, u := range []domain.User{f.dev, f.lead} {
		if err := f.Repo.UpsertUser(ctx, u); err != nil {
			t.Fatalf("upsert user: %v", err)
		}
	}
	if err := f.Repo.UpsertMember(ctx, "p1", f.dev.Email, "developer"); err != nil {
		t.Fatal(err)
	}
	if err := f.Repo.UpsertMember(ctx, "p1", f.lead.Email, "admin"); err != nil {
		t.Fatal(err)
	}

	f.open = domain.Status{ID: "s-open", WorkflowID: "wf1", Name: "Open", Category: domain.CategoryTodo, IsInitial: true, IsActive: true, Position: 0}
	f.inProgress = domain.Status{ID: "s-prog", WorkflowID: "wf1", Name: "In Progress", Category: domain.CategoryInProgress, IsActive: true, Position: 1}
	f.done = domain.Status{ID: "s-done", WorkflowID: "wf1", Name: "Done", Category: domain.CategoryDone, IsActive: true, Position: 2}

	f.start = domain.Transition{
		ID: "t-start", WorkflowID: "wf1", Name: "Start",
		FromStatusID: strptr("s-open"), ToStatusID: "s-prog",
		PostFunctions: domain.PostFunctionSet{AssignToUser: domain.AssignCurrentUser},
		IsActive:      true, Position: 0,
	}
	f.resolve = domain.Transition{
		ID: "t-resolve", WorkflowID: "wf1", Name: "Resolve",
		FromStatusID: strptr("s-prog"), ToStatusID: "s-done",
		Validators: domain.ValidatorSet{ResolutionRequired: true},
		IsActive:   true, Position: 1,
	}
	f.reopen = domain.Transition{
		ID: "t-reopen", WorkflowID: "wf1", Name: "Reopen",
		FromStatusID: strptr("s-done"), ToStatusID: "s-open",
		PostFunctions: domain.PostFunctionSet{UpdateField: map[string]string{"resolution": ""}},
		IsActive:      true, Position: 2,
	}

	f.wf = domain.Workflow{
		ID: "wf1", OrgID: "org1", Name: "Default", IsActive: true, IsDefault: true,
		CreatedAt:   testClock.Format(time.RFC3339),
		Statuses:    []domain.Status{f.open, f.inProgress, f.done},
		Transitions: []domain.Transition{f.start, f.resolve, f.reopen},
	}
	if err := f.SaveWorkflow(ctx, f.wf, f.lead.Email); err != nil {
		t.Fatalf("save workflow: %v", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = f.Repo.SaveSchemeTx(ctx, tx, domain.Scheme{
		ProjectID: "p1", Name: "PROJ scheme", DefaultWorkflowID: "wf1", IsActive: true,
	})
	if err != nil {
		t.Fatalf("save scheme: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return f
}

func strptr(s string) *string { return &s }

func (f *fixture) createIssue(t *testing.T) domain.Issue {
	t.Helper()
	issue, err := f.CreateIssue(context.Background(), IssueCreateOptions{
		ProjectID:     "p1",
		Summary:       "Fix deadlock in scheduler",
		TypeID:        "bug",
		TypeName:      "Bug",
		ReporterEmail: f.dev.Email,
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return issue
}

func validationErrors(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *ValidationError", err)
	}
	return verr.Errors
}

func hasError(errs []string, want string) bool {
	for _, e := range errs {
		if e == want {
			return true
		}
	}
	return false
}

func TestCreateIssue(t *testing.T) {
	f := newFixture(t)
	issue := f.createIssue(t)

	if issue.Key != "PROJ-1" {
		t.Errorf("key = %s, want PROJ-1", issue.Key)
	}
	if issue.StatusID != "s-open" || issue.StatusName != "Open" {
		t.Errorf("status = %s/%s, want initial Open", issue.StatusID, issue.StatusName)
	}
	if issue.CreatedAt != testClock.Format(time.RFC3339) {
		t.Errorf("created_at = %s", issue.CreatedAt)
	}

	second := f.createIssue(t)
	if second.Key != "PROJ-2" {
		t.Errorf("second key = %s, want PROJ-2", second.Key)
	}

	stored, err := f.Repo.GetIssue(context.Background(), "PROJ-1")
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if stored.Summary != issue.Summary {
		t.Errorf("stored summary = %q", stored.Summary)
	}
}

func TestCreateIssueRequiresInitialStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second workflow with no initial status, mapped to one issue type.
	wf := domain.Workflow{
		ID: "wf2", OrgID: "org1", Name: "Broken", IsActive: true,
		CreatedAt: testClock.Format(time.RFC3339),
		Statuses: []domain.Status{
			{ID: "s2-a", WorkflowID: "wf2", Name: "Somewhere", Category: domain.CategoryTodo, IsActive: true},
		},
	}
	if err := f.SaveWorkflow(ctx, wf, f.lead.Email); err != nil {
		t.Fatal(err)
	}
	tx, err := f.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = f.Repo.SaveSchemeTx(ctx, tx, domain.Scheme{
		ProjectID: "p1", Name: "PROJ scheme", DefaultWorkflowID: "wf1",
		Mappings: map[string]string{"epic": "wf2"}, IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	_, err = f.CreateIssue(ctx, IssueCreateOptions{
		ProjectID: "p1", Summary: "Epic work", TypeID: "epic", ReporterEmail: f.dev.Email,
	})
	if err == nil || !strings.Contains(err.Error(), "no initial status") {
		t.Fatalf("err = %v, want no initial status", err)
	}
}

func TestExecuteTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	moved, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.dev, Data{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if moved.StatusName != "In Progress" {
		t.Errorf("status = %s, want In Progress", moved.StatusName)
	}
	if moved.AssigneeEmail != f.dev.Email {
		t.Errorf("assignee = %q, want current user via post function", moved.AssigneeEmail)
	}
	if moved.UpdatedAt != testClock.Format(time.RFC3339) {
		t.Errorf("updated_at = %s", moved.UpdatedAt)
	}

	stored, err := f.Repo.GetIssue(ctx, issue.Key)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StatusID != "s-prog" {
		t.Errorf("stored status = %s", stored.StatusID)
	}

	evts, err := f.Events.Tail(ctx, "p1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) == 0 || evts[0].Type != "issue.transitioned" {
		t.Errorf("latest event = %+v, want issue.transitioned", evts)
	}
}

func TestResolutionRequiredGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	if _, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.dev, Data{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := f.ExecuteTransition(ctx, issue.Key, "t-resolve", f.dev, Data{})
	errs := validationErrors(t, err)
	if !hasError(errs, "Resolution is required") {
		t.Fatalf("errors = %v, want Resolution is required", errs)
	}

	// The failed attempt must leave the issue untouched.
	stored, err := f.Repo.GetIssue(ctx, issue.Key)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StatusName != "In Progress" || stored.Resolution != "" {
		t.Fatalf("issue modified by rejected transition: %s %q", stored.StatusName, stored.Resolution)
	}

	moved, err := f.ExecuteTransition(ctx, issue.Key, "t-resolve", f.dev, Data{Resolution: "Fixed"})
	if err != nil {
		t.Fatalf("resolve with resolution: %v", err)
	}
	if moved.StatusName != "Done" || moved.Resolution != "Fixed" {
		t.Errorf("issue = %s %q", moved.StatusName, moved.Resolution)
	}
	if moved.ResolvedAt != testClock.Format(time.RFC3339) {
		t.Errorf("resolved_at = %q, want set on entering done", moved.ResolvedAt)
	}
}

func TestReopenClearsResolvedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	for _, step := range []struct {
		id   string
		data Data
	}{
		{"t-start", Data{}},
		{"t-resolve", Data{Resolution: "Fixed"}},
		{"t-reopen", Data{}},
	} {
		var err error
		issue, err = f.ExecuteTransition(ctx, issue.Key, step.id, f.dev, step.data)
		if err != nil {
			t.Fatalf("%s: %v", step.id, err)
		}
	}
	if issue.StatusName != "Open" {
		t.Errorf("status = %s", issue.StatusName)
	}
	if issue.ResolvedAt != "" {
		t.Errorf("resolved_at = %q, want cleared on leaving done", issue.ResolvedAt)
	}
	if issue.Resolution != "" {
		t.Errorf("resolution = %q, want cleared by update_field post function", issue.Resolution)
	}
}

func TestStaleTransitionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	// Resolve leaves In Progress but the issue is still Open.
	_, err := f.ExecuteTransition(ctx, issue.Key, "t-resolve", f.dev, Data{Resolution: "Fixed"})
	errs := validationErrors(t, err)
	if !hasError(errs, "Transition cannot be executed from status 'Open'") {
		t.Fatalf("errors = %v", errs)
	}

	stored, err := f.Repo.GetIssue(ctx, issue.Key)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StatusName != "Open" || stored.Resolution != "" {
		t.Fatalf("issue modified: %s %q", stored.StatusName, stored.Resolution)
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue, err := f.Repo.GetIssue(ctx, f.createIssue(t).Key)
	if err != nil {
		t.Fatal(err)
	}

	gate := domain.Transition{
		ID: "t-gate", WorkflowID: "wf1", Name: "Gate",
		FromStatusID: strptr("s-prog"), ToStatusID: "s-done",
		Validators: domain.ValidatorSet{
			FieldRequired:       []string{"due_date"},
			ResolutionRequired:  true,
			CommentRequired:     true,
			CustomFieldRequired: []string{"severity"},
		},
		IsActive: false,
	}

	err = f.ValidateTransition(ctx, &issue, &gate, &f.outsider, Data{})
	errs := validationErrors(t, err)
	want := []string{
		"Transition is not active",
		"Transition cannot be executed from status 'Open'",
		"Field 'due_date' is required",
		"Resolution is required",
		"Comment is required",
		"Custom field 'severity' is required",
		"User does not have permission to execute this transition",
	}
	for _, w := range want {
		if !hasError(errs, w) {
			t.Errorf("missing %q in %v", w, errs)
		}
	}
	if len(errs) != len(want) {
		t.Errorf("got %d errors, want %d: %v", len(errs), len(want), errs)
	}
}

func TestConditionsGateAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	guarded := domain.Transition{
		ID: "t-guard", WorkflowID: "wf1", Name: "Escalate",
		FromStatusID: strptr("s-open"), ToStatusID: "s-prog",
		Conditions: domain.ConditionSet{UserInRole: "admin"},
		IsActive:   true, Position: 5,
	}
	tx, err := f.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := f.Repo.InsertTransitionTx(ctx, tx, guarded); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	names := func(ts []domain.Transition) []string {
		var out []string
		for _, tr := range ts {
			out = append(out, tr.Name)
		}
		return out
	}

	devAvail, err := f.AvailableTransitions(ctx, &issue, &f.dev)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(devAvail); len(got) != 1 || got[0] != "Start" {
		t.Errorf("developer sees %v, want [Start]", got)
	}

	leadAvail, err := f.AvailableTransitions(ctx, &issue, &f.lead)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(leadAvail); len(got) != 2 {
		t.Errorf("admin sees %v, want Start and Escalate", got)
	}

	// Conditions fail as "not met" on a direct attempt.
	_, err = f.ExecuteTransition(ctx, issue.Key, "t-guard", f.dev, Data{})
	if !hasError(validationErrors(t, err), "Transition conditions not met") {
		t.Errorf("expected conditions not met, got %v", err)
	}
}

func TestAssigneeCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)
	issue.AssigneeEmail = f.lead.Email

	guarded := domain.Transition{
		ID: "t-mine", WorkflowID: "wf1", Name: "Claim",
		FromStatusID: strptr("s-open"), ToStatusID: "s-prog",
		Conditions: domain.ConditionSet{UserIsAssignee: true},
		IsActive:   true,
	}
	ok, err := f.checkConditions(ctx, &guarded, &issue, &f.lead)
	if err != nil || !ok {
		t.Errorf("assignee should pass: ok=%v err=%v", ok, err)
	}
	ok, err = f.checkConditions(ctx, &guarded, &issue, &f.dev)
	if err != nil || ok {
		t.Errorf("non-assignee should fail: ok=%v err=%v", ok, err)
	}
	ok, err = f.checkConditions(ctx, &guarded, &issue, nil)
	if err != nil || ok {
		t.Errorf("nil user should fail user conditions: ok=%v err=%v", ok, err)
	}
}

func TestPermissionRequiresMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	_, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.outsider, Data{})
	errs := validationErrors(t, err)
	if !hasError(errs, "User does not have permission to execute this transition") {
		t.Fatalf("errors = %v", errs)
	}
}

func TestTransitionDataFieldWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	moved, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.dev, Data{
		Fields: map[string]string{"priority": "High", "due_date": "2026-04-01"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if moved.Priority != "High" || moved.DueDate != "2026-04-01" {
		t.Errorf("fields not applied: %q %q", moved.Priority, moved.DueDate)
	}

	// Writing a read-only attribute aborts the transition.
	issue2 := f.createIssue(t)
	_, err = f.ExecuteTransition(ctx, issue2.Key, "t-start", f.dev, Data{
		Fields: map[string]string{"status": "Done"},
	})
	if err == nil || !strings.Contains(err.Error(), "not writable") {
		t.Fatalf("err = %v, want not writable", err)
	}
	stored, err := f.Repo.GetIssue(ctx, issue2.Key)
	if err != nil {
		t.Fatal(err)
	}
	if stored.StatusName != "Open" {
		t.Errorf("issue moved despite aborted write: %s", stored.StatusName)
	}
}

func TestTransitionComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	if _, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.dev, Data{Comment: "picking this up"}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	comments, err := repo.Comments{DB: f.DB}.ListComments(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(comments))
	}
	c := comments[0]
	if c.Body != "picking this up" || c.Author != f.dev.Email {
		t.Errorf("comment = %+v", c)
	}
	if c.FromStatus != "Open" || c.ToStatus != "In Progress" {
		t.Errorf("comment statuses = %q -> %q", c.FromStatus, c.ToStatus)
	}
}

func TestHookFiresAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.createIssue(t)

	var gotFrom, gotTo string
	f.Hook = func(is domain.Issue, actor domain.User, from, to domain.Status, tr domain.Transition) {
		gotFrom, gotTo = from.Name, to.Name
	}
	if _, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.dev, Data{}); err != nil {
		t.Fatal(err)
	}
	if gotFrom != "Open" || gotTo != "In Progress" {
		t.Errorf("hook saw %q -> %q", gotFrom, gotTo)
	}

	// No hook on a failed attempt.
	fired := false
	f.Hook = func(domain.Issue, domain.User, domain.Status, domain.Status, domain.Transition) { fired = true }
	if _, err := f.ExecuteTransition(ctx, issue.Key, "t-start", f.dev, Data{}); err == nil {
		t.Fatal("re-running Start from In Progress should fail")
	}
	if fired {
		t.Error("hook fired for rejected transition")
	}
}

func TestCloneWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	clone, err := f.Engine.CloneWorkflow(ctx, "wf1", "Default v2", f.lead.Email)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone.ID == "wf1" {
		t.Error("clone kept source id")
	}
	if clone.IsDefault {
		t.Error("clone must not be default")
	}
	if len(clone.Statuses) != 3 || len(clone.Transitions) != 3 {
		t.Fatalf("clone has %d statuses, %d transitions", len(clone.Statuses), len(clone.Transitions))
	}

	stored, err := f.Repo.GetWorkflowByName(ctx, "org1", "Default v2")
	if err != nil {
		t.Fatalf("get clone: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range stored.Statuses {
		ids[s.ID] = true
		if s.ID == "s-open" || s.ID == "s-prog" || s.ID == "s-done" {
			t.Errorf("clone reused status id %s", s.ID)
		}
	}
	for _, tr := range stored.Transitions {
		if tr.FromStatusID != nil && !ids[*tr.FromStatusID] {
			t.Errorf("transition %s points outside the clone", tr.Name)
		}
		if !ids[tr.ToStatusID] {
			t.Errorf("transition %s points outside the clone", tr.Name)
		}
	}
	start := TransitionByID(&stored, stored.Transitions[0].ID)
	if start == nil {
		t.Fatal("clone lost transitions")
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createIssue(t)
	f.createIssue(t)
	if _, err := f.ExecuteTransition(ctx, a.Key, "t-start", f.dev, Data{}); err != nil {
		t.Fatal(err)
	}

	got, err := f.Engine.Search(ctx, `status = "In Progress"`, &f.dev)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Key != a.Key {
		t.Fatalf("search returned %d issues", len(got))
	}

	got, err = f.Engine.Search(ctx, `assignee = currentUser()`, &f.dev)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Key != a.Key {
		t.Fatalf("currentUser search returned %d issues", len(got))
	}

	if _, err := f.Engine.Search(ctx, `bogus = 1`, &f.dev); err == nil {
		t.Error("search with unknown field should fail")
	}
}
