package workflow

import (
	"testing"
	"time"

	"stateline/internal/domain"
)

func sampleWorkflow() domain.Workflow {
	open := domain.Status{ID: "a", WorkflowID: "w", Name: "Open", Category: domain.CategoryTodo, IsInitial: true, IsActive: true}
	prog := domain.Status{ID: "b", WorkflowID: "w", Name: "In Progress", Category: domain.CategoryInProgress, IsActive: true}
	done := domain.Status{ID: "c", WorkflowID: "w", Name: "Done", Category: domain.CategoryDone, IsActive: true}
	return domain.Workflow{
		ID: "w", OrgID: "org", Name: "Flow", IsActive: true, IsDefault: true,
		Statuses: []domain.Status{open, prog, done},
		Transitions: []domain.Transition{
			{ID: "t1", WorkflowID: "w", Name: "Create", ToStatusID: "a", IsActive: true},
			{ID: "t2", WorkflowID: "w", Name: "Start", FromStatusID: strptr("a"), ToStatusID: "b", IsActive: true},
			{ID: "t3", WorkflowID: "w", Name: "Finish", FromStatusID: strptr("b"), ToStatusID: "c", IsActive: true},
			{ID: "t4", WorkflowID: "w", Name: "Abandoned", FromStatusID: strptr("a"), ToStatusID: "c", IsActive: false},
		},
	}
}

func TestInitialStatus(t *testing.T) {
	wf := sampleWorkflow()
	if got := InitialStatus(&wf); got == nil || got.ID != "a" {
		t.Fatalf("InitialStatus = %v", got)
	}
	wf.Statuses[0].IsActive = false
	if got := InitialStatus(&wf); got != nil {
		t.Fatalf("inactive initial status returned: %v", got)
	}
	wf.Statuses[0].IsActive = true
	wf.Statuses[0].IsInitial = false
	if got := InitialStatus(&wf); got != nil {
		t.Fatalf("workflow without initial returned: %v", got)
	}
}

func TestAvailableFrom(t *testing.T) {
	wf := sampleWorkflow()

	from := AvailableFrom(&wf, "a")
	if len(from) != 1 || from[0].ID != "t2" {
		t.Fatalf("from a: %v", from)
	}

	// "" selects the creation transitions.
	create := AvailableFrom(&wf, "")
	if len(create) != 1 || create[0].ID != "t1" {
		t.Fatalf("creation transitions: %v", create)
	}

	if got := AvailableFrom(&wf, "c"); len(got) != 0 {
		t.Fatalf("from terminal status: %v", got)
	}
}

func TestClone(t *testing.T) {
	wf := sampleWorkflow()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clone, err := Clone(&wf, "Flow copy", now)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	if clone.ID == wf.ID {
		t.Error("clone kept source workflow id")
	}
	if clone.Name != "Flow copy" || clone.IsDefault {
		t.Errorf("clone = %s default=%v", clone.Name, clone.IsDefault)
	}
	if clone.Description != "Cloned from Flow" {
		t.Errorf("description = %q", clone.Description)
	}

	ids := map[string]bool{}
	for i, s := range clone.Statuses {
		if s.ID == wf.Statuses[i].ID {
			t.Errorf("status %s kept its id", s.Name)
		}
		if s.WorkflowID != clone.ID {
			t.Errorf("status %s points at workflow %s", s.Name, s.WorkflowID)
		}
		ids[s.ID] = true
	}
	for _, tr := range clone.Transitions {
		if tr.FromStatusID != nil && !ids[*tr.FromStatusID] {
			t.Errorf("transition %s from-edge points outside the clone", tr.Name)
		}
		if !ids[tr.ToStatusID] {
			t.Errorf("transition %s to-edge points outside the clone", tr.Name)
		}
	}

	// Nil from stays nil; inactive stays inactive.
	if clone.Transitions[0].FromStatusID != nil {
		t.Error("creation transition gained a from status")
	}
	if clone.Transitions[3].IsActive {
		t.Error("inactive transition became active")
	}
}

func TestCloneRejectsDanglingEdges(t *testing.T) {
	wf := sampleWorkflow()
	wf.Transitions = append(wf.Transitions, domain.Transition{
		ID: "t5", WorkflowID: "w", Name: "Ghost", FromStatusID: strptr("zzz"), ToStatusID: "a", IsActive: true,
	})
	if _, err := Clone(&wf, "copy", time.Now()); err == nil {
		t.Fatal("clone of workflow with dangling edge should fail")
	}
}

func TestSchemeWorkflowID(t *testing.T) {
	scheme := domain.Scheme{
		ProjectID:         "p",
		DefaultWorkflowID: "wf-default",
		Mappings:          map[string]string{"bug": "wf-bugs", "story": ""},
	}
	if got := SchemeWorkflowID(&scheme, "bug"); got != "wf-bugs" {
		t.Errorf("bug -> %s", got)
	}
	if got := SchemeWorkflowID(&scheme, "task"); got != "wf-default" {
		t.Errorf("unmapped type -> %s", got)
	}
	// An empty mapping falls back to the default.
	if got := SchemeWorkflowID(&scheme, "story"); got != "wf-default" {
		t.Errorf("empty mapping -> %s", got)
	}
}
