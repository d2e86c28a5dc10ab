package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// Directory answers project membership and role questions from the
// project_members table. The project lead comes from the project row itself.
type Directory struct {
	DB *sql.DB
}

func (d Directory) IsMember(ctx context.Context, projectID, email string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM project_members WHERE project_id=? AND email=? AND is_active=1`, projectID, email).Scan(&n)
	return n > 0, err
}

func (d Directory) HasRole(ctx context.Context, projectID, email, role string) (bool, error) {
	var got string
	err := d.DB.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND email=? AND is_active=1`, projectID, email).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got == role, nil
}

func (d Directory) ProjectLead(ctx context.Context, projectID string) (string, error) {
	var lead sql.NullString
	err := d.DB.QueryRowContext(ctx, `SELECT lead_email FROM projects WHERE id=?`, projectID).Scan(&lead)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !lead.Valid || lead.String == "" {
		return "", fmt.Errorf("project %s has no lead", projectID)
	}
	return lead.String, nil
}
