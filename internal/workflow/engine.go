package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"stateline/internal/domain"
	"stateline/internal/events"
	"stateline/internal/jql"
	"stateline/internal/repo"
)

// Commenter attaches a comment to an issue during a transition. It runs
// inside the execution transaction so a failed attach rolls the whole
// transition back.
type Commenter interface {
	AddComment(ctx context.Context, tx *sql.Tx, issue domain.Issue, author domain.User, from, to domain.Status, body string) error
}

// TransitionHook runs after a transition commits, outside the transaction.
// Notification and automation layers hang off this.
type TransitionHook func(issue domain.Issue, actor domain.User, from, to domain.Status, t domain.Transition)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Roles     RoleDirectory
	Commenter Commenter
	Hook      TransitionHook
	Now       func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Roles:     repo.Directory{DB: db},
		Commenter: repo.Comments{DB: db},
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError carries every reason a transition attempt was rejected.
// Validation never stops at the first failure.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "transition validation failed: " + strings.Join(e.Errors, "; ")
}

// WorkflowForIssue resolves the workflow governing an issue through its
// project's scheme: the issue-type mapping if present, the scheme default
// otherwise.
func (e Engine) WorkflowForIssue(ctx context.Context, issue *domain.Issue) (domain.Workflow, error) {
	scheme, err := e.Repo.GetScheme(ctx, issue.ProjectID)
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("scheme for project %s: %w", issue.ProjectID, err)
	}
	wf, err := e.Repo.GetWorkflow(ctx, SchemeWorkflowID(&scheme, issue.TypeID))
	if err != nil {
		return domain.Workflow{}, fmt.Errorf("workflow for issue %s: %w", issue.Key, err)
	}
	return wf, nil
}

// AvailableTransitions lists the transitions a user may take from the
// issue's current status: structurally reachable, active, and with all
// conditions met. Validators are not consulted here.
func (e Engine) AvailableTransitions(ctx context.Context, issue *domain.Issue, user *domain.User) ([]domain.Transition, error) {
	wf, err := e.WorkflowForIssue(ctx, issue)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var available []domain.Transition
	for _, t := range AvailableFrom(&wf, issue.StatusID) {
		ok, err := e.checkConditions(ctx, &t, issue, user)
		if err != nil {
			return nil, err
		}
		if ok {
			available = append(available, t)
		}
	}
	return available, nil
}

// ValidateTransition checks one transition attempt and collects every
// failure: inactive transition, stale from-status, unmet conditions,
// validator failures and missing permission all report together.
func (e Engine) ValidateTransition(ctx context.Context, issue *domain.Issue, t *domain.Transition, user *domain.User, data Data) error {
	var errs []string

	if !t.IsActive {
		errs = append(errs, "Transition is not active")
	}

	if t.FromStatusID == nil || *t.FromStatusID != issue.StatusID {
		errs = append(errs, fmt.Sprintf("Transition cannot be executed from status '%s'", issue.StatusName))
	}

	ok, err := e.checkConditions(ctx, t, issue, user)
	if err != nil {
		return err
	}
	if !ok {
		errs = append(errs, "Transition conditions not met")
	}

	errs = append(errs, runValidators(t, issue, data)...)

	permitted, err := e.hasTransitionPermission(ctx, issue, user)
	if err != nil {
		return err
	}
	if !permitted {
		errs = append(errs, "User does not have permission to execute this transition")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Permission baseline: any active project member may execute transitions.
func (e Engine) hasTransitionPermission(ctx context.Context, issue *domain.Issue, user *domain.User) (bool, error) {
	if user == nil {
		return false, nil
	}
	return e.Roles.IsMember(ctx, issue.ProjectID, user.Email)
}

// ExecuteTransition moves an issue through a transition. The issue is
// re-read, validated and mutated inside one transaction; status change,
// field writes, post-functions, comment attach and the audit event commit
// together or not at all. The hook fires only after commit.
func (e Engine) ExecuteTransition(ctx context.Context, issueKey, transitionID string, user domain.User, data Data) (domain.Issue, error) {
	current, err := e.Repo.GetIssue(ctx, issueKey)
	if err != nil {
		return domain.Issue{}, err
	}
	wf, err := e.WorkflowForIssue(ctx, &current)
	if err != nil {
		return domain.Issue{}, err
	}
	t := TransitionByID(&wf, transitionID)
	if t == nil {
		return domain.Issue{}, fmt.Errorf("transition %s: %w", transitionID, repo.ErrNotFound)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, err := e.Repo.GetIssueTx(ctx, tx, issueKey)
	if err != nil {
		return domain.Issue{}, err
	}

	if err := e.ValidateTransition(ctx, &issue, t, &user, data); err != nil {
		return domain.Issue{}, err
	}

	oldStatus := StatusByID(&wf, issue.StatusID)
	newStatus := StatusByID(&wf, t.ToStatusID)
	if oldStatus == nil || newStatus == nil {
		return domain.Issue{}, fmt.Errorf("transition %s references a status outside workflow %s", t.Name, wf.Name)
	}

	for _, name := range sortedKeys(data.Fields) {
		if err := setIssueAttr(&issue, name, data.Fields[name]); err != nil {
			return domain.Issue{}, fmt.Errorf("transition data: %w", err)
		}
	}
	if data.Resolution != "" {
		issue.Resolution = data.Resolution
	}

	now := e.now().UTC()
	issue.StatusID = newStatus.ID
	issue.StatusName = newStatus.Name
	issue.UpdatedAt = now.Format(time.RFC3339)
	switch {
	case newStatus.Category == domain.CategoryDone && issue.ResolvedAt == "":
		issue.ResolvedAt = now.Format(time.RFC3339)
	case newStatus.Category != domain.CategoryDone:
		issue.ResolvedAt = ""
	}

	if err := e.applyPostFunctions(ctx, t, &issue, &user); err != nil {
		return domain.Issue{}, err
	}

	if err := e.Repo.UpdateIssueTx(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}

	if data.Comment != "" && e.Commenter != nil {
		if err := e.Commenter.AddComment(ctx, tx, issue, user, *oldStatus, *newStatus, data.Comment); err != nil {
			return domain.Issue{}, fmt.Errorf("add comment: %w", err)
		}
	}

	if err := e.Events.Append(ctx, tx, "issue.transitioned", issue.ProjectID, "issue", issue.ID, user.Email, events.EventPayload{
		"issue_key":   issue.Key,
		"transition":  t.Name,
		"from_status": oldStatus.Name,
		"to_status":   newStatus.Name,
	}); err != nil {
		return domain.Issue{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}

	if e.Hook != nil {
		e.Hook(issue, user, *oldStatus, *newStatus, *t)
	}
	return issue, nil
}

// IssueCreateOptions are parameters for creating an issue.
type IssueCreateOptions struct {
	ProjectID     string
	Summary       string
	Description   string
	TypeID        string
	TypeName      string
	Priority      string
	ReporterEmail string
	AssigneeEmail string
	Labels        []string
	CustomFields  map[string]string
	DueDate       string
	EpicKey       string
	ParentKey     string
	SprintID      string
}

// CreateIssue places a new issue in the initial status of its workflow. A
// workflow with no initial status is a configuration error and the issue is
// not created.
func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Summary == "" {
		return domain.Issue{}, errors.New("summary is required")
	}
	if opts.TypeID == "" {
		return domain.Issue{}, errors.New("issue type is required")
	}
	project, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Issue{}, err
	}

	probe := domain.Issue{ProjectID: project.ID, TypeID: opts.TypeID}
	wf, err := e.WorkflowForIssue(ctx, &probe)
	if err != nil {
		return domain.Issue{}, err
	}
	initial := InitialStatus(&wf)
	if initial == nil {
		return domain.Issue{}, fmt.Errorf("workflow %q has no initial status", wf.Name)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	key, err := e.Repo.NextIssueKeyTx(ctx, tx, project.ID, project.Key)
	if err != nil {
		return domain.Issue{}, fmt.Errorf("allocate issue key: %w", err)
	}

	now := e.now().UTC().Format(time.RFC3339)
	issue := domain.Issue{
		ID:            uuid.NewString(),
		ProjectID:     project.ID,
		ProjectKey:    project.Key,
		Key:           key,
		Summary:       opts.Summary,
		Description:   opts.Description,
		TypeID:        opts.TypeID,
		TypeName:      opts.TypeName,
		StatusID:      initial.ID,
		StatusName:    initial.Name,
		Priority:      opts.Priority,
		AssigneeEmail: opts.AssigneeEmail,
		ReporterEmail: opts.ReporterEmail,
		Labels:        opts.Labels,
		CustomFields:  opts.CustomFields,
		EpicKey:       opts.EpicKey,
		ParentKey:     opts.ParentKey,
		SprintID:      opts.SprintID,
		DueDate:       opts.DueDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if issue.TypeName == "" {
		issue.TypeName = issue.TypeID
	}
	if err := e.Repo.InsertIssueTx(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	if err := e.Events.Append(ctx, tx, "issue.created", issue.ProjectID, "issue", issue.ID, opts.ReporterEmail, events.EventPayload{
		"issue_key": issue.Key,
		"status":    issue.StatusName,
	}); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// SaveWorkflow persists a workflow graph atomically and records the event.
func (e Engine) SaveWorkflow(ctx context.Context, wf domain.Workflow, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveWorkflowTx(ctx, tx, wf); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "workflow.saved", "", "workflow", wf.ID, actorID, events.EventPayload{
		"name": wf.Name,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// CloneWorkflow deep-copies an existing workflow under a new name.
func (e Engine) CloneWorkflow(ctx context.Context, workflowID, newName, actorID string) (domain.Workflow, error) {
	src, err := e.Repo.GetWorkflow(ctx, workflowID)
	if err != nil {
		return domain.Workflow{}, err
	}
	clone, err := Clone(&src, newName, e.now())
	if err != nil {
		return domain.Workflow{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workflow{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveWorkflowTx(ctx, tx, clone); err != nil {
		return domain.Workflow{}, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.cloned", "", "workflow", clone.ID, actorID, events.EventPayload{
		"name":   clone.Name,
		"source": src.Name,
	}); err != nil {
		return domain.Workflow{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workflow{}, err
	}
	return clone, nil
}

// Search parses a query and runs it store-side. The same predicate evaluated
// with jql.Filter over ListIssues must select the same rows.
func (e Engine) Search(ctx context.Context, query string, user *domain.User) ([]domain.Issue, error) {
	pred, err := jql.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return e.Repo.SearchIssues(ctx, pred, jql.Context{User: user, Now: e.Now})
}
