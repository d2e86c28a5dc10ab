package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stateline/internal/domain"
)

// Workflow persistence. Condition, validator and post-function sets live in
// JSON columns; they are decoded into their typed structs on read and a
// fresh value is marshalled on every write.

func (r Repo) SaveWorkflowTx(ctx context.Context, tx *sql.Tx, wf domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,org_id,name,description,is_active,is_default,created_at) VALUES (?,?,?,?,?,?,?)`,
		wf.ID, wf.OrgID, wf.Name, nullable(wf.Description), boolInt(wf.IsActive), boolInt(wf.IsDefault), wf.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow %s: %w", wf.Name, err)
	}
	for _, s := range wf.Statuses {
		if err := r.InsertStatusTx(ctx, tx, s); err != nil {
			return err
		}
	}
	for _, t := range wf.Transitions {
		if err := r.InsertTransitionTx(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

// InsertStatusTx enforces the write-time invariants: at most one initial
// status per workflow and unique status names within a workflow.
func (r Repo) InsertStatusTx(ctx context.Context, tx *sql.Tx, s domain.Status) error {
	if !s.Category.Valid() {
		return fmt.Errorf("status %s: invalid category %q", s.Name, s.Category)
	}
	if s.IsInitial {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM statuses WHERE workflow_id=? AND is_initial=1`, s.WorkflowID).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("workflow %s already has an initial status", s.WorkflowID)
		}
	}
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM statuses WHERE workflow_id=? AND name=?`, s.WorkflowID, s.Name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("workflow %s already has a status named %q", s.WorkflowID, s.Name)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO statuses(id,workflow_id,name,category,is_initial,is_active,position) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.WorkflowID, s.Name, string(s.Category), boolInt(s.IsInitial), boolInt(s.IsActive), s.Position)
	if err != nil {
		return fmt.Errorf("insert status %s: %w", s.Name, err)
	}
	return nil
}

// InsertTransitionTx enforces that both endpoints belong to the transition's
// workflow.
func (r Repo) InsertTransitionTx(ctx context.Context, tx *sql.Tx, t domain.Transition) error {
	if t.FromStatusID != nil {
		if err := statusInWorkflow(ctx, tx, t.WorkflowID, *t.FromStatusID); err != nil {
			return fmt.Errorf("transition %s: from: %w", t.Name, err)
		}
	}
	if err := statusInWorkflow(ctx, tx, t.WorkflowID, t.ToStatusID); err != nil {
		return fmt.Errorf("transition %s: to: %w", t.Name, err)
	}
	conditions, err := json.Marshal(t.Conditions)
	if err != nil {
		return err
	}
	validators, err := json.Marshal(t.Validators)
	if err != nil {
		return err
	}
	postFunctions, err := json.Marshal(t.PostFunctions)
	if err != nil {
		return err
	}
	var from any
	if t.FromStatusID != nil {
		from = *t.FromStatusID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO transitions(id,workflow_id,name,description,from_status_id,to_status_id,conditions_json,validators_json,post_functions_json,is_active,position)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkflowID, t.Name, nullable(t.Description), from, t.ToStatusID,
		string(conditions), string(validators), string(postFunctions), boolInt(t.IsActive), t.Position)
	if err != nil {
		return fmt.Errorf("insert transition %s: %w", t.Name, err)
	}
	return nil
}

func statusInWorkflow(ctx context.Context, tx *sql.Tx, workflowID, statusID string) error {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM statuses WHERE id=? AND workflow_id=?`, statusID, workflowID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("status %s not in workflow %s", statusID, workflowID)
	}
	return nil
}

// GetWorkflow materializes the full graph: workflow row plus its statuses
// and transitions ordered by position.
func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	wf, err := r.scanWorkflowRow(r.DB.QueryRowContext(ctx,
		`SELECT id,org_id,name,COALESCE(description,''),is_active,is_default,created_at FROM workflows WHERE id=?`, id))
	if err != nil {
		return domain.Workflow{}, err
	}
	return r.materializeWorkflow(ctx, wf)
}

func (r Repo) GetWorkflowByName(ctx context.Context, orgID, name string) (domain.Workflow, error) {
	wf, err := r.scanWorkflowRow(r.DB.QueryRowContext(ctx,
		`SELECT id,org_id,name,COALESCE(description,''),is_active,is_default,created_at FROM workflows WHERE org_id=? AND name=?`, orgID, name))
	if err != nil {
		return domain.Workflow{}, err
	}
	return r.materializeWorkflow(ctx, wf)
}

func (r Repo) DefaultWorkflow(ctx context.Context, orgID string) (domain.Workflow, error) {
	wf, err := r.scanWorkflowRow(r.DB.QueryRowContext(ctx,
		`SELECT id,org_id,name,COALESCE(description,''),is_active,is_default,created_at FROM workflows WHERE org_id=? AND is_default=1 AND is_active=1`, orgID))
	if err != nil {
		return domain.Workflow{}, err
	}
	return r.materializeWorkflow(ctx, wf)
}

func (r Repo) scanWorkflowRow(row *sql.Row) (domain.Workflow, error) {
	var wf domain.Workflow
	var active, def int
	err := row.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Description, &active, &def, &wf.CreatedAt)
	if err == sql.ErrNoRows {
		return wf, ErrNotFound
	}
	wf.IsActive = active != 0
	wf.IsDefault = def != 0
	return wf, err
}

func (r Repo) materializeWorkflow(ctx context.Context, wf domain.Workflow) (domain.Workflow, error) {
	statuses, err := r.listStatuses(ctx, wf.ID)
	if err != nil {
		return domain.Workflow{}, err
	}
	transitions, err := r.listTransitions(ctx, wf.ID)
	if err != nil {
		return domain.Workflow{}, err
	}
	wf.Statuses = statuses
	wf.Transitions = transitions
	return wf, nil
}

func (r Repo) listStatuses(ctx context.Context, workflowID string) ([]domain.Status, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workflow_id,name,category,is_initial,is_active,position FROM statuses WHERE workflow_id=? ORDER BY position,name`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Status
	for rows.Next() {
		var s domain.Status
		var cat string
		var initial, active int
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.Name, &cat, &initial, &active, &s.Position); err != nil {
			return nil, err
		}
		s.Category = domain.StatusCategory(cat)
		s.IsInitial = initial != 0
		s.IsActive = active != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) listTransitions(ctx context.Context, workflowID string) ([]domain.Transition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workflow_id,name,COALESCE(description,''),from_status_id,to_status_id,conditions_json,validators_json,post_functions_json,is_active,position
		FROM transitions WHERE workflow_id=? ORDER BY position,name`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		var t domain.Transition
		var from sql.NullString
		var conditions, validators, postFunctions string
		var active int
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.Name, &t.Description, &from, &t.ToStatusID,
			&conditions, &validators, &postFunctions, &active, &t.Position); err != nil {
			return nil, err
		}
		if from.Valid {
			v := from.String
			t.FromStatusID = &v
		}
		if err := json.Unmarshal([]byte(conditions), &t.Conditions); err != nil {
			return nil, fmt.Errorf("transition %s: conditions: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(validators), &t.Validators); err != nil {
			return nil, fmt.Errorf("transition %s: validators: %w", t.ID, err)
		}
		if err := json.Unmarshal([]byte(postFunctions), &t.PostFunctions); err != nil {
			return nil, fmt.Errorf("transition %s: post functions: %w", t.ID, err)
		}
		t.IsActive = active != 0
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListWorkflows(ctx context.Context, orgID string) ([]domain.Workflow, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,name,COALESCE(description,''),is_active,is_default,created_at FROM workflows WHERE org_id=? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		var active, def int
		if err := rows.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Description, &active, &def, &wf.CreatedAt); err != nil {
			return nil, err
		}
		wf.IsActive = active != 0
		wf.IsDefault = def != 0
		res = append(res, wf)
	}
	return res, rows.Err()
}

// DeactivateWorkflow soft-deletes: the row stays for issues that still
// reference its statuses.
func (r Repo) DeactivateWorkflow(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE workflows SET is_active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SaveSchemeTx(ctx context.Context, tx *sql.Tx, s domain.Scheme) error {
	mappings, err := json.Marshal(s.Mappings)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO schemes(project_id,name,default_workflow_id,mappings_json,is_active) VALUES (?,?,?,?,?)
		ON CONFLICT(project_id) DO UPDATE SET name=excluded.name, default_workflow_id=excluded.default_workflow_id, mappings_json=excluded.mappings_json, is_active=excluded.is_active`,
		s.ProjectID, s.Name, s.DefaultWorkflowID, string(mappings), boolInt(s.IsActive))
	return err
}

func (r Repo) GetScheme(ctx context.Context, projectID string) (domain.Scheme, error) {
	var s domain.Scheme
	var mappings string
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,name,default_workflow_id,mappings_json,is_active FROM schemes WHERE project_id=? AND is_active=1`, projectID).
		Scan(&s.ProjectID, &s.Name, &s.DefaultWorkflowID, &mappings, &active)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(mappings), &s.Mappings); err != nil {
		return s, fmt.Errorf("scheme %s: mappings: %w", s.ProjectID, err)
	}
	s.IsActive = active != 0
	return s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
