package server

import "stateline/internal/domain"

type CloneWorkflowRequest struct {
	Name string `json:"name" example:"Bug workflow v2"`
}

type ImportWorkflowRequest struct {
	YAML string `json:"yaml" doc:"Workflow definition in YAML"`
}

type ExportWorkflowResponse struct {
	YAML string `json:"yaml"`
}

type CreateIssueRequest struct {
	ProjectID    string            `json:"project_id,omitempty" doc:"Defaults to the configured project"`
	Summary      string            `json:"summary"`
	Description  string            `json:"description,omitempty"`
	Type         string            `json:"type" example:"bug"`
	Priority     string            `json:"priority,omitempty"`
	Assignee     string            `json:"assignee,omitempty"`
	Labels       []string          `json:"labels,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	DueDate      string            `json:"due_date,omitempty" format:"date-time"`
}

type ExecuteTransitionRequest struct {
	Fields     map[string]string `json:"fields,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
	Comment    string            `json:"comment,omitempty"`
}

type ValidateJQLRequest struct {
	Query string `json:"query" example:"project = \"PROJ\" AND status = \"Open\""`
}

type ValidateJQLResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// TransitionResponse is the availability view of a transition: enough for a
// client to render a button, without the full config blocks.
type TransitionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ToStatusID  string `json:"to_status_id"`
	HasGates    bool   `json:"has_gates" doc:"True when validators apply on execution"`
}

func transitionResponses(transitions []domain.Transition) []TransitionResponse {
	out := make([]TransitionResponse, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, TransitionResponse{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			ToStatusID:  t.ToStatusID,
			HasGates:    !t.Validators.IsZero(),
		})
	}
	return out
}
