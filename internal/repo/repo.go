package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stateline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Key, &p.Name, &p.LeadEmail, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	return insertProject(ctx, r.DB, p)
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	return insertProject(ctx, tx, p)
}

func insertProject(ctx context.Context, q queryer, p domain.Project) error {
	_, err := q.ExecContext(ctx, `INSERT INTO projects(id,key,name,lead_email,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Key, p.Name, nullable(p.LeadEmail), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,key,name,COALESCE(lead_email,'') AS lead_email,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByKey(ctx context.Context, key string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,key,name,COALESCE(lead_email,'') AS lead_email,created_at FROM projects WHERE key=?`, key))
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,key,name,COALESCE(lead_email,'') AS lead_email,created_at FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.LeadEmail, &p.CreatedAt); err != nil {
			return domain.Project{}, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,key,name,COALESCE(lead_email,'') AS lead_email,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.LeadEmail, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(email,name) VALUES (?,?) ON CONFLICT(email) DO UPDATE SET name=excluded.name`,
		u.Email, nullable(u.Name))
	return err
}

func (r Repo) GetUser(ctx context.Context, email string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT email,COALESCE(name,'') FROM users WHERE email=?`, email).Scan(&u.Email, &u.Name)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) UpsertMember(ctx context.Context, projectID, email, role string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO project_members(project_id,email,role,is_active) VALUES (?,?,?,1)
		ON CONFLICT(project_id,email) DO UPDATE SET role=excluded.role, is_active=1`,
		projectID, email, role)
	return err
}

func (r Repo) RemoveMember(ctx context.Context, projectID, email string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE project_members SET is_active=0 WHERE project_id=? AND email=?`, projectID, email)
	return err
}

// queryer is the subset of *sql.DB / *sql.Tx the repo needs, so the same
// statement helpers serve both.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
