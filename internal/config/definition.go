package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"stateline/internal/domain"
)

// WorkflowDef is the YAML import/export shape of a workflow. Statuses and
// transitions reference each other by name; ids are assigned on import.
type WorkflowDef struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Default     bool            `yaml:"default,omitempty"`
	Statuses    []StatusDef     `yaml:"statuses"`
	Transitions []TransitionDef `yaml:"transitions"`
}

type StatusDef struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Initial  bool   `yaml:"initial,omitempty"`
}

type TransitionDef struct {
	Name          string                 `yaml:"name"`
	Description   string                 `yaml:"description,omitempty"`
	From          string                 `yaml:"from,omitempty"`
	To            string                 `yaml:"to"`
	Conditions    domain.ConditionSet    `yaml:"conditions,omitempty"`
	Validators    domain.ValidatorSet    `yaml:"validators,omitempty"`
	PostFunctions domain.PostFunctionSet `yaml:"post_functions,omitempty"`
}

// Validate checks a definition before ids are assigned: unique status names,
// valid categories, at most one initial status, transitions wired to known
// statuses.
func (d *WorkflowDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if len(d.Statuses) == 0 {
		return fmt.Errorf("workflow %s has no statuses", d.Name)
	}
	names := map[string]bool{}
	initials := 0
	for _, s := range d.Statuses {
		if s.Name == "" {
			return fmt.Errorf("workflow %s has a status with no name", d.Name)
		}
		if names[s.Name] {
			return fmt.Errorf("workflow %s: duplicate status %q", d.Name, s.Name)
		}
		names[s.Name] = true
		if !domain.StatusCategory(s.Category).Valid() {
			return fmt.Errorf("status %q: invalid category %q", s.Name, s.Category)
		}
		if s.Initial {
			initials++
		}
	}
	if initials > 1 {
		return fmt.Errorf("workflow %s has %d initial statuses, at most one allowed", d.Name, initials)
	}
	for _, t := range d.Transitions {
		if t.Name == "" {
			return fmt.Errorf("workflow %s has a transition with no name", d.Name)
		}
		if t.From != "" && !names[t.From] {
			return fmt.Errorf("transition %q: unknown from status %q", t.Name, t.From)
		}
		if !names[t.To] {
			return fmt.Errorf("transition %q: unknown to status %q", t.Name, t.To)
		}
		if t.PostFunctions.AssignToUser != "" && !t.PostFunctions.AssignToUser.Valid() {
			return fmt.Errorf("transition %q: invalid assign_to_user %q", t.Name, t.PostFunctions.AssignToUser)
		}
	}
	return nil
}

// ToWorkflow materializes a definition: fresh uuids, statuses then
// transitions pointed at them by id.
func (d *WorkflowDef) ToWorkflow(orgID string, now time.Time) (domain.Workflow, error) {
	if err := d.Validate(); err != nil {
		return domain.Workflow{}, err
	}
	wf := domain.Workflow{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		Name:        d.Name,
		Description: d.Description,
		IsActive:    true,
		IsDefault:   d.Default,
		CreatedAt:   now.UTC().Format(time.RFC3339),
	}
	ids := map[string]string{}
	for i, s := range d.Statuses {
		st := domain.Status{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			Name:       s.Name,
			Category:   domain.StatusCategory(s.Category),
			IsInitial:  s.Initial,
			IsActive:   true,
			Position:   i,
		}
		ids[s.Name] = st.ID
		wf.Statuses = append(wf.Statuses, st)
	}
	for i, t := range d.Transitions {
		tr := domain.Transition{
			ID:            uuid.NewString(),
			WorkflowID:    wf.ID,
			Name:          t.Name,
			Description:   t.Description,
			ToStatusID:    ids[t.To],
			Conditions:    t.Conditions,
			Validators:    t.Validators,
			PostFunctions: t.PostFunctions,
			IsActive:      true,
			Position:      i,
		}
		if t.From != "" {
			from := ids[t.From]
			tr.FromStatusID = &from
		}
		wf.Transitions = append(wf.Transitions, tr)
	}
	return wf, nil
}

// FromWorkflow renders a stored workflow back into its definition shape.
func FromWorkflow(wf *domain.Workflow) WorkflowDef {
	def := WorkflowDef{
		Name:        wf.Name,
		Description: wf.Description,
		Default:     wf.IsDefault,
	}
	names := map[string]string{}
	for _, s := range wf.Statuses {
		names[s.ID] = s.Name
		def.Statuses = append(def.Statuses, StatusDef{
			Name:     s.Name,
			Category: string(s.Category),
			Initial:  s.IsInitial,
		})
	}
	for _, t := range wf.Transitions {
		td := TransitionDef{
			Name:          t.Name,
			Description:   t.Description,
			To:            names[t.ToStatusID],
			Conditions:    t.Conditions,
			Validators:    t.Validators,
			PostFunctions: t.PostFunctions,
		}
		if t.FromStatusID != nil {
			td.From = names[*t.FromStatusID]
		}
		def.Transitions = append(def.Transitions, td)
	}
	return def
}

// ParseWorkflowDef parses and validates a YAML workflow definition.
func ParseWorkflowDef(data []byte) (*WorkflowDef, error) {
	var def WorkflowDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow yaml: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// MarshalWorkflowDef renders a definition to YAML.
func MarshalWorkflowDef(def WorkflowDef) ([]byte, error) {
	return yaml.Marshal(def)
}

// DefaultWorkflowDef is the workflow seeded for new projects: a small
// open/in-progress/done loop with a resolution gate on Resolve.
func DefaultWorkflowDef() WorkflowDef {
	return WorkflowDef{
		Name:        "Default",
		Description: "Standard three-step workflow",
		Default:     true,
		Statuses: []StatusDef{
			{Name: "Open", Category: "todo", Initial: true},
			{Name: "In Progress", Category: "in_progress"},
			{Name: "Done", Category: "done"},
		},
		Transitions: []TransitionDef{
			{Name: "Start", From: "Open", To: "In Progress",
				PostFunctions: domain.PostFunctionSet{AssignToUser: domain.AssignCurrentUser}},
			{Name: "Resolve", From: "In Progress", To: "Done",
				Validators: domain.ValidatorSet{ResolutionRequired: true}},
			{Name: "Reopen", From: "Done", To: "Open",
				PostFunctions: domain.PostFunctionSet{UpdateField: map[string]string{"resolution": ""}}},
		},
	}
}
