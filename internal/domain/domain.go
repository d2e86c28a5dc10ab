package domain

// StatusCategory groups statuses into open/closed buckets.
type StatusCategory string

const (
	CategoryTodo       StatusCategory = "todo"
	CategoryInProgress StatusCategory = "in_progress"
	CategoryDone       StatusCategory = "done"
)

func (c StatusCategory) Valid() bool {
	switch c {
	case CategoryTodo, CategoryInProgress, CategoryDone:
		return true
	}
	return false
}

type Project struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name,omitempty"`
	LeadEmail string `json:"lead_email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Workflow is a named state machine: a set of statuses plus the directed
// transitions between them. Statuses and Transitions are materialized in
// memory before the engine runs; the engine never lazy-loads.
type Workflow struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"org_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsActive    bool         `json:"is_active"`
	IsDefault   bool         `json:"is_default"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	Statuses    []Status     `json:"statuses,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

type Status struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"`
	Category   StatusCategory `json:"category" enum:"todo,in_progress,done"`
	IsInitial  bool           `json:"is_initial"`
	IsActive   bool           `json:"is_active"`
	Position   int            `json:"position"`
}

// Transition is a directed edge between two statuses. FromStatusID nil marks
// an issue-creation transition. Conditions gate visibility, validators gate
// execution, post-functions run after the status mutation commits.
type Transition struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflow_id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	FromStatusID  *string         `json:"from_status_id,omitempty"`
	ToStatusID    string          `json:"to_status_id"`
	Conditions    ConditionSet    `json:"conditions,omitempty"`
	Validators    ValidatorSet    `json:"validators,omitempty"`
	PostFunctions PostFunctionSet `json:"post_functions,omitempty"`
	IsActive      bool            `json:"is_active"`
	Position      int             `json:"position"`
}

// ConditionSet controls whether a transition is offered to a user. A zero
// field means the condition does not apply. The set is a value: replace it
// wholesale on update, never mutate a shared instance.
type ConditionSet struct {
	UserInRole     string            `json:"user_in_role,omitempty" yaml:"user_in_role,omitempty"`
	UserIsAssignee bool              `json:"user_is_assignee,omitempty" yaml:"user_is_assignee,omitempty"`
	UserIsReporter bool              `json:"user_is_reporter,omitempty" yaml:"user_is_reporter,omitempty"`
	FieldEquals    map[string]string `json:"field_equals,omitempty" yaml:"field_equals,omitempty"`
	FieldNotEmpty  []string          `json:"field_not_empty,omitempty" yaml:"field_not_empty,omitempty"`
	IssueTypes     []string          `json:"issue_type,omitempty" yaml:"issue_type,omitempty"`
}

func (c ConditionSet) IsZero() bool {
	return c.UserInRole == "" && !c.UserIsAssignee && !c.UserIsReporter &&
		len(c.FieldEquals) == 0 && len(c.FieldNotEmpty) == 0 && len(c.IssueTypes) == 0
}

// ValidatorSet controls whether an attempted execution is legal. Validators
// run only when a transition is attempted, never when listing availability.
type ValidatorSet struct {
	FieldRequired       []string `json:"field_required,omitempty" yaml:"field_required,omitempty"`
	ResolutionRequired  bool     `json:"resolution_required,omitempty" yaml:"resolution_required,omitempty"`
	CommentRequired     bool     `json:"comment_required,omitempty" yaml:"comment_required,omitempty"`
	CustomFieldRequired []string `json:"custom_field_required,omitempty" yaml:"custom_field_required,omitempty"`
}

func (v ValidatorSet) IsZero() bool {
	return len(v.FieldRequired) == 0 && !v.ResolutionRequired &&
		!v.CommentRequired && len(v.CustomFieldRequired) == 0
}

// AssignTarget names who a transition assigns the issue to.
type AssignTarget string

const (
	AssignCurrentUser AssignTarget = "current_user"
	AssignReporter    AssignTarget = "reporter"
	AssignProjectLead AssignTarget = "project_lead"
	AssignUnassigned  AssignTarget = "unassigned"
)

func (t AssignTarget) Valid() bool {
	switch t {
	case AssignCurrentUser, AssignReporter, AssignProjectLead, AssignUnassigned:
		return true
	}
	return false
}

// PostFunctionSet describes side effects applied after the status mutation.
// Canonical application order: assign, update_field, set_resolution, copy_field.
type PostFunctionSet struct {
	AssignToUser  AssignTarget      `json:"assign_to_user,omitempty" yaml:"assign_to_user,omitempty" enum:"current_user,reporter,project_lead,unassigned,"`
	UpdateField   map[string]string `json:"update_field,omitempty" yaml:"update_field,omitempty"`
	SetResolution string            `json:"set_resolution,omitempty" yaml:"set_resolution,omitempty"`
	CopyField     map[string]string `json:"copy_field,omitempty" yaml:"copy_field,omitempty"`
}

func (p PostFunctionSet) IsZero() bool {
	return p.AssignToUser == "" && len(p.UpdateField) == 0 &&
		p.SetResolution == "" && len(p.CopyField) == 0
}

// Scheme binds a project to workflows: one workflow per issue type, with a
// mandatory default for unmapped types. One scheme per project.
type Scheme struct {
	ProjectID         string            `json:"project_id"`
	Name              string            `json:"name"`
	DefaultWorkflowID string            `json:"default_workflow_id"`
	Mappings          map[string]string `json:"mappings,omitempty"`
	IsActive          bool              `json:"is_active"`
}

// Issue is the record the engine reads and mutates. Timestamps are RFC3339
// UTC strings; empty string means unset. AssigneeEmail empty means unassigned.
type Issue struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	ProjectKey    string            `json:"project_key"`
	Key           string            `json:"key"`
	Summary       string            `json:"summary"`
	Description   string            `json:"description,omitempty"`
	TypeID        string            `json:"type_id"`
	TypeName      string            `json:"type_name"`
	StatusID      string            `json:"status_id"`
	StatusName    string            `json:"status_name"`
	Priority      string            `json:"priority,omitempty"`
	AssigneeEmail string            `json:"assignee_email,omitempty"`
	ReporterEmail string            `json:"reporter_email"`
	Labels        []string          `json:"labels,omitempty"`
	Resolution    string            `json:"resolution,omitempty"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
	EpicKey       string            `json:"epic_key,omitempty"`
	ParentKey     string            `json:"parent_key,omitempty"`
	SprintID      string            `json:"sprint_id,omitempty"`
	CreatedAt     string            `json:"created_at" format:"date-time"`
	UpdatedAt     string            `json:"updated_at" format:"date-time"`
	ResolvedAt    string            `json:"resolved_at,omitempty" format:"date-time"`
	DueDate       string            `json:"due_date,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
