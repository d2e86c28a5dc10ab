package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"stateline/internal/domain"
	"stateline/internal/jql"
)

const issueColumns = `id,project_id,project_key,key,summary,COALESCE(description,''),type_id,type_name,status_id,status_name,
	COALESCE(priority,''),COALESCE(assignee_email,''),COALESCE(reporter_email,''),COALESCE(resolution,''),custom_fields_json,
	COALESCE(epic_key,''),COALESCE(parent_key,''),COALESCE(sprint_id,''),created_at,updated_at,COALESCE(resolved_at,''),COALESCE(due_date,'')`

func scanIssue(scan func(dest ...any) error) (domain.Issue, error) {
	var is domain.Issue
	var customFields string
	err := scan(&is.ID, &is.ProjectID, &is.ProjectKey, &is.Key, &is.Summary, &is.Description,
		&is.TypeID, &is.TypeName, &is.StatusID, &is.StatusName,
		&is.Priority, &is.AssigneeEmail, &is.ReporterEmail, &is.Resolution, &customFields,
		&is.EpicKey, &is.ParentKey, &is.SprintID, &is.CreatedAt, &is.UpdatedAt, &is.ResolvedAt, &is.DueDate)
	if err == sql.ErrNoRows {
		return is, ErrNotFound
	}
	if err != nil {
		return is, err
	}
	if customFields != "" && customFields != "{}" {
		if err := json.Unmarshal([]byte(customFields), &is.CustomFields); err != nil {
			return is, fmt.Errorf("issue %s: custom fields: %w", is.Key, err)
		}
	}
	return is, nil
}

func (r Repo) InsertIssueTx(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	customFields, err := json.Marshal(orEmptyMap(is.CustomFields))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO issues(id,project_id,project_key,key,summary,description,type_id,type_name,status_id,status_name,
		priority,assignee_email,reporter_email,resolution,custom_fields_json,epic_key,parent_key,sprint_id,created_at,updated_at,resolved_at,due_date)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		is.ID, is.ProjectID, is.ProjectKey, is.Key, is.Summary, nullable(is.Description),
		is.TypeID, is.TypeName, is.StatusID, is.StatusName,
		nullable(is.Priority), nullable(is.AssigneeEmail), nullable(is.ReporterEmail), nullable(is.Resolution), string(customFields),
		nullable(is.EpicKey), nullable(is.ParentKey), nullable(is.SprintID),
		is.CreatedAt, is.UpdatedAt, nullable(is.ResolvedAt), nullable(is.DueDate))
	if err != nil {
		return fmt.Errorf("insert issue %s: %w", is.Key, err)
	}
	return r.replaceLabelsTx(ctx, tx, is.ID, is.Labels)
}

func (r Repo) UpdateIssueTx(ctx context.Context, tx *sql.Tx, is domain.Issue) error {
	customFields, err := json.Marshal(orEmptyMap(is.CustomFields))
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE issues SET summary=?, description=?, status_id=?, status_name=?,
		priority=?, assignee_email=?, resolution=?, custom_fields_json=?, epic_key=?, parent_key=?, sprint_id=?,
		updated_at=?, resolved_at=?, due_date=? WHERE id=?`,
		is.Summary, nullable(is.Description), is.StatusID, is.StatusName,
		nullable(is.Priority), nullable(is.AssigneeEmail), nullable(is.Resolution), string(customFields),
		nullable(is.EpicKey), nullable(is.ParentKey), nullable(is.SprintID),
		is.UpdatedAt, nullable(is.ResolvedAt), nullable(is.DueDate), is.ID)
	if err != nil {
		return fmt.Errorf("update issue %s: %w", is.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return r.replaceLabelsTx(ctx, tx, is.ID, is.Labels)
}

func (r Repo) replaceLabelsTx(ctx context.Context, tx *sql.Tx, issueID string, labels []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id=?`, issueID); err != nil {
		return err
	}
	for _, l := range labels {
		if _, err := tx.ExecContext(ctx, `INSERT INTO issue_labels(issue_id,label) VALUES (?,?)`, issueID, l); err != nil {
			return fmt.Errorf("insert label %q: %w", l, err)
		}
	}
	return nil
}

func (r Repo) GetIssue(ctx context.Context, key string) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE key=?`, key)
	is, err := scanIssue(row.Scan)
	if err != nil {
		return is, err
	}
	is.Labels, err = r.issueLabels(ctx, nil, is.ID)
	return is, err
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, key string) (domain.Issue, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE key=?`, key)
	is, err := scanIssue(row.Scan)
	if err != nil {
		return is, err
	}
	is.Labels, err = r.issueLabels(ctx, tx, is.ID)
	return is, err
}

func (r Repo) issueLabels(ctx context.Context, tx *sql.Tx, issueID string) ([]string, error) {
	var q queryer = r.DB
	if tx != nil {
		q = tx
	}
	rows, err := q.QueryContext(ctx, `SELECT label FROM issue_labels WHERE issue_id=? ORDER BY label`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

func (r Repo) ListIssues(ctx context.Context, projectID string) ([]domain.Issue, error) {
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE project_id=? ORDER BY created_at DESC`, projectID)
}

// SearchIssues compiles a predicate into a WHERE fragment and runs it
// store-side. Results match what jql.Filter would return for the same
// context.
func (r Repo) SearchIssues(ctx context.Context, pred jql.Predicate, jctx jql.Context) ([]domain.Issue, error) {
	where, args, err := jql.ToSQL(pred, jctx)
	if err != nil {
		return nil, err
	}
	return r.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues WHERE `+where+` ORDER BY created_at DESC`, args...)
}

func (r Repo) queryIssues(ctx context.Context, query string, args ...any) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Issue
	for rows.Next() {
		is, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, is)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Labels, err = r.issueLabels(ctx, nil, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// NextIssueKey allocates PROJ-n from a per-project counter.
func (r Repo) NextIssueKeyTx(ctx context.Context, tx *sql.Tx, projectID, projectKey string) (string, error) {
	var n int
	err := tx.QueryRowContext(ctx, `UPDATE issue_counters SET next=next+1 WHERE project_id=? RETURNING next-1`, projectID).Scan(&n)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO issue_counters(project_id,next) VALUES (?,2)`, projectID); err != nil {
			return "", err
		}
		n = 1
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", projectKey, n), nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
