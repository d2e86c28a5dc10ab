package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"stateline/internal/domain"
)

// InitialStatus returns the workflow's active status flagged is_initial, or
// nil when none is set. Issue creation treats nil as a hard error.
func InitialStatus(wf *domain.Workflow) *domain.Status {
	for i := range wf.Statuses {
		s := &wf.Statuses[i]
		if s.IsInitial && s.IsActive {
			return s
		}
	}
	return nil
}

func StatusByID(wf *domain.Workflow, id string) *domain.Status {
	for i := range wf.Statuses {
		if wf.Statuses[i].ID == id {
			return &wf.Statuses[i]
		}
	}
	return nil
}

func StatusByName(wf *domain.Workflow, name string) *domain.Status {
	for i := range wf.Statuses {
		if wf.Statuses[i].Name == name {
			return &wf.Statuses[i]
		}
	}
	return nil
}

func TransitionByID(wf *domain.Workflow, id string) *domain.Transition {
	for i := range wf.Transitions {
		if wf.Transitions[i].ID == id {
			return &wf.Transitions[i]
		}
	}
	return nil
}

// AvailableFrom lists active transitions leaving the given status, in
// position order as stored. fromStatusID "" selects the creation transitions
// (nil FromStatusID). Structural only: conditions are checked elsewhere.
func AvailableFrom(wf *domain.Workflow, fromStatusID string) []domain.Transition {
	var out []domain.Transition
	for _, t := range wf.Transitions {
		if !t.IsActive {
			continue
		}
		if fromStatusID == "" {
			if t.FromStatusID == nil {
				out = append(out, t)
			}
			continue
		}
		if t.FromStatusID != nil && *t.FromStatusID == fromStatusID {
			out = append(out, t)
		}
	}
	return out
}

// Clone deep-copies a workflow under a new name. Every status and transition
// gets a fresh id; transition endpoints are remapped through the new status
// ids so no edge points back into the source workflow. The clone is never
// the default.
func Clone(wf *domain.Workflow, newName string, now time.Time) (domain.Workflow, error) {
	out := domain.Workflow{
		ID:          uuid.NewString(),
		OrgID:       wf.OrgID,
		Name:        newName,
		Description: fmt.Sprintf("Cloned from %s", wf.Name),
		IsActive:    wf.IsActive,
		IsDefault:   false,
		CreatedAt:   now.UTC().Format(time.RFC3339),
	}

	idMap := make(map[string]string, len(wf.Statuses))
	for _, s := range wf.Statuses {
		ns := s
		ns.ID = uuid.NewString()
		ns.WorkflowID = out.ID
		idMap[s.ID] = ns.ID
		out.Statuses = append(out.Statuses, ns)
	}

	for _, t := range wf.Transitions {
		nt := t
		nt.ID = uuid.NewString()
		nt.WorkflowID = out.ID
		if t.FromStatusID != nil {
			from, ok := idMap[*t.FromStatusID]
			if !ok {
				return domain.Workflow{}, fmt.Errorf("transition %s: from status %s not in workflow", t.Name, *t.FromStatusID)
			}
			nt.FromStatusID = &from
		}
		to, ok := idMap[t.ToStatusID]
		if !ok {
			return domain.Workflow{}, fmt.Errorf("transition %s: to status %s not in workflow", t.Name, t.ToStatusID)
		}
		nt.ToStatusID = to
		out.Transitions = append(out.Transitions, nt)
	}
	return out, nil
}

// SchemeWorkflowID resolves which workflow a scheme assigns to an issue
// type: the mapped workflow if present, the scheme default otherwise.
func SchemeWorkflowID(scheme *domain.Scheme, issueTypeID string) string {
	if id, ok := scheme.Mappings[issueTypeID]; ok && id != "" {
		return id
	}
	return scheme.DefaultWorkflowID
}
