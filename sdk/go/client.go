// Package statelinesdk is a minimal Go client for the stateline HTTP API.
package statelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a stateline server. Zero value is not usable; construct
// with New.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New returns a client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 15 * time.Second,
	}
}

// Issue mirrors the server's issue representation.
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
	ReporterEmail string            `json:"reporter_email,omitempty"`
	Labels        []string          `json:"labels,omitempty"`
	Resolution    string            `json:"resolution,omitempty"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
	EpicKey       string            `json:"epic_key,omitempty"`
	ParentKey     string            `json:"parent_key,omitempty"`
	SprintID      string            `json:"sprint_id,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
	ResolvedAt    string            `json:"resolved_at,omitempty"`
	DueDate       string            `json:"due_date,omitempty"`
}

// Workflow is the full workflow graph as returned by the server.
type Workflow struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"org_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsActive    bool         `json:"is_active"`
	IsDefault   bool         `json:"is_default"`
	CreatedAt   string       `json:"created_at"`
	Statuses    []Status     `json:"statuses"`
	Transitions []Transition `json:"transitions"`
}

type Status struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	IsInitial  bool   `json:"is_initial"`
	IsActive   bool   `json:"is_active"`
	Position   int    `json:"position"`
}

type Transition struct {
	ID           string  `json:"id"`
	WorkflowID   string  `json:"workflow_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	FromStatusID *string `json:"from_status_id"`
	ToStatusID   string  `json:"to_status_id"`
	IsActive     bool    `json:"is_active"`
	Position     int     `json:"position"`
}

// AvailableTransition is the availability view returned when listing an
// issue's transitions.
type AvailableTransition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ToStatusID  string `json:"to_status_id"`
	HasGates    bool   `json:"has_gates"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// CreateIssueInput is the payload for CreateIssue. Summary and Type are
// required.
type CreateIssueInput struct {
	Summary      string            `json:"summary"`
	Description  string            `json:"description,omitempty"`
	Type         string            `json:"type"`
	Priority     string            `json:"priority,omitempty"`
	Assignee     string            `json:"assignee,omitempty"`
	Labels       []string          `json:"labels,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	DueDate      string            `json:"due_date,omitempty"`
}

// TransitionInput carries the optional execution data for a transition.
type TransitionInput struct {
	Fields     map[string]string `json:"fields,omitempty"`
	Resolution string            `json:"resolution,omitempty"`
	Comment    string            `json:"comment,omitempty"`
}

// ValidationResult reports whether a JQL query parses.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// CreateIssue creates an issue in the server's configured project.
func (c *Client) CreateIssue(ctx context.Context, in CreateIssueInput) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodPost, c.apiPath("issues"), in, &resp)
	return resp, err
}

// GetIssue fetches an issue by key, e.g. "PROJ-42".
func (c *Client) GetIssue(ctx context.Context, key string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, c.apiPath("issues/"+url.PathEscape(key)), nil, &resp)
	return resp, err
}

// SearchIssues runs a JQL query and returns matching issues.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]Issue, error) {
	var resp []Issue
	endpoint := c.apiPath("issues") + "?jql=" + url.QueryEscape(jql)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ValidateJQL checks query syntax without executing it.
func (c *Client) ValidateJQL(ctx context.Context, query string) (ValidationResult, error) {
	body := map[string]any{"query": query}
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, c.apiPath("search/validate"), body, &resp)
	return resp, err
}

// ListTransitions returns the transitions currently available on an issue
// for the authenticated user.
func (c *Client) ListTransitions(ctx context.Context, issueKey string) ([]AvailableTransition, error) {
	var resp []AvailableTransition
	endpoint := c.apiPath(fmt.Sprintf("issues/%s/transitions", url.PathEscape(issueKey)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ExecuteTransition runs a transition on an issue and returns the updated
// issue. Validation failures surface as an APIError with status 422.
func (c *Client) ExecuteTransition(ctx context.Context, issueKey, transitionID string, in TransitionInput) (Issue, error) {
	var resp Issue
	endpoint := c.apiPath(fmt.Sprintf("issues/%s/transitions/%s", url.PathEscape(issueKey), url.PathEscape(transitionID)))
	err := c.do(ctx, http.MethodPost, endpoint, in, &resp)
	return resp, err
}

// ListWorkflows returns all active workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, c.apiPath("workflows"), nil, &resp)
	return resp, err
}

// GetWorkflow fetches a workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, c.apiPath("workflows/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// CloneWorkflow copies a workflow under a new name.
func (c *Client) CloneWorkflow(ctx context.Context, id, name string) (Workflow, error) {
	body := map[string]any{"name": name}
	var resp Workflow
	endpoint := c.apiPath(fmt.Sprintf("workflows/%s/clone", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ImportWorkflow creates a workflow from a YAML definition.
func (c *Client) ImportWorkflow(ctx context.Context, yamlDef string) (Workflow, error) {
	body := map[string]any{"yaml": yamlDef}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, c.apiPath("workflows/import"), body, &resp)
	return resp, err
}

// ExportWorkflow returns the YAML definition of a workflow.
func (c *Client) ExportWorkflow(ctx context.Context, id string) (string, error) {
	var resp struct {
		YAML string `json:"yaml"`
	}
	endpoint := c.apiPath(fmt.Sprintf("workflows/%s/export", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.YAML, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return "v0/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
