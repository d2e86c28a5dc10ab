package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stateline/internal/config"
	"stateline/internal/domain"
	"stateline/internal/jql"
	"stateline/internal/repo"
	"stateline/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   workflow.Engine
	Project  *config.Config
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"transition validation failed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stateline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Stateline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerWorkflows(group, cfg)
	registerIssues(group, cfg)
	registerSearch(group, cfg)
	registerEvents(group, cfg)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", ve.Error(), map[string]any{"errors": ve.Errors})
	}
	var se *jql.SyntaxError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadRequest, "invalid_jql", err.Error(), map[string]any{"position": se.Pos, "snippet": se.Snippet})
	}
	var ue *jql.UnknownFieldError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadRequest, "unknown_field", err.Error(), map[string]any{"field": ue.Field})
	}
	var pe *jql.ParseError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusBadRequest, "invalid_jql", err.Error(), map[string]any{"position": pe.Pos})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already has"), strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "no initial status"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerWorkflows(api huma.API, cfg Config) {
	e := cfg.Engine
	org := orgID(cfg.Project)

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Workflow `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkflows(ctx, org)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Workflow `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}",
		Summary:     "Get workflow with statuses and transitions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		wf, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clone-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows/{workflow_id}/clone",
		Summary:       "Clone a workflow under a new name",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
		Body       CloneWorkflowRequest
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		clone, err := e.CloneWorkflow(ctx, input.WorkflowID, input.Body.Name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: clone}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows/import",
		Summary:       "Import a workflow definition from YAML",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ImportWorkflowRequest
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		def, err := config.ParseWorkflowDef([]byte(input.Body.YAML))
		if err != nil {
			return nil, handleError(err)
		}
		wf, err := def.ToWorkflow(org, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.SaveWorkflow(ctx, wf, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{workflow_id}/export",
		Summary:     "Export a workflow definition as YAML",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `path:"workflow_id"`
	}) (*struct {
		Body ExportWorkflowResponse `json:"body"`
	}, error) {
		wf, err := e.Repo.GetWorkflow(ctx, input.WorkflowID)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := config.MarshalWorkflowDef(config.FromWorkflow(&wf))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExportWorkflowResponse `json:"body"`
		}{Body: ExportWorkflowResponse{YAML: string(data)}}, nil
	})
}

func registerIssues(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-issue",
		Method:        http.MethodPost,
		Path:          "/issues",
		Summary:       "Create an issue in its workflow's initial status",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateIssueRequest
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := workflow.IssueCreateOptions{
			ProjectID:     input.Body.ProjectID,
			Summary:       input.Body.Summary,
			Description:   input.Body.Description,
			TypeID:        input.Body.Type,
			Priority:      input.Body.Priority,
			ReporterEmail: actor,
			AssigneeEmail: input.Body.Assignee,
			Labels:        input.Body.Labels,
			CustomFields:  input.Body.CustomFields,
			DueDate:       input.Body.DueDate,
		}
		if opts.ProjectID == "" && cfg.Project != nil {
			opts.ProjectID = cfg.Project.Project.ID
		}
		if cfg.Project != nil {
			opts.TypeName = cfg.Project.IssueTypeName(opts.TypeID)
		}
		issue, err := e.CreateIssue(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-issue",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_key}",
		Summary:     "Get an issue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueKey string `path:"issue_key"`
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		issue, err := e.Repo.GetIssue(ctx, input.IssueKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/issues/{issue_key}/transitions",
		Summary:     "List transitions available to the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		IssueKey string `path:"issue_key"`
	}) (*struct {
		Body []TransitionResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.Repo.GetIssue(ctx, input.IssueKey)
		if err != nil {
			return nil, handleError(err)
		}
		user := domain.User{Email: actor}
		available, err := e.AvailableTransitions(ctx, &issue, &user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransitionResponse `json:"body"`
		}{Body: transitionResponses(available)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-transition",
		Method:      http.MethodPost,
		Path:        "/issues/{issue_key}/transitions/{transition_id}",
		Summary:     "Execute a transition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		IssueKey     string `path:"issue_key"`
		TransitionID string `path:"transition_id"`
		Body         ExecuteTransitionRequest
	}) (*struct {
		Body domain.Issue `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		issue, err := e.ExecuteTransition(ctx, input.IssueKey, input.TransitionID, domain.User{Email: actor}, workflow.Data{
			Fields:     input.Body.Fields,
			Resolution: input.Body.Resolution,
			Comment:    input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Issue `json:"body"`
		}{Body: issue}, nil
	})
}

func registerSearch(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "search-issues",
		Method:      http.MethodGet,
		Path:        "/issues",
		Summary:     "List or search issues",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		JQL string `query:"jql" required:"false" doc:"JQL filter; empty matches all issues"`
	}) (*struct {
		Body []domain.Issue `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		user := domain.User{Email: actor}
		items, err := e.Search(ctx, input.JQL, &user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Issue `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-jql",
		Method:      http.MethodPost,
		Path:        "/search/validate",
		Summary:     "Validate JQL syntax without executing",
	}, func(ctx context.Context, input *struct {
		Body ValidateJQLRequest
	}) (*struct {
		Body ValidateJQLResponse `json:"body"`
	}, error) {
		resp := ValidateJQLResponse{Valid: true}
		if err := jql.Validate(input.Body.Query); err != nil {
			resp.Valid = false
			resp.Error = err.Error()
		}
		return &struct {
			Body ValidateJQLResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit event log",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id" required:"false"`
		Limit     int    `query:"limit" required:"false"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Events.Tail(ctx, input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func orgID(cfg *config.Config) string {
	if cfg != nil && cfg.Org != "" {
		return cfg.Org
	}
	return "default-org"
}
