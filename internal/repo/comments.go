package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"stateline/internal/domain"
)

// Comment is a note attached to an issue, usually during a transition.
type Comment struct {
	ID         string `json:"id"`
	IssueID    string `json:"issue_id"`
	Author     string `json:"author"`
	Body       string `json:"body"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Comments struct {
	DB  *sql.DB
	Now func() time.Time
}

func (c Comments) AddComment(ctx context.Context, tx *sql.Tx, issue domain.Issue, author domain.User, from, to domain.Status, body string) error {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,issue_id,author,body,from_status,to_status,created_at) VALUES (?,?,?,?,?,?,?)`,
		uuid.NewString(), issue.ID, author.Email, body, nullable(from.Name), nullable(to.Name), now().UTC().Format(time.RFC3339))
	return err
}

func (c Comments) ListComments(ctx context.Context, issueID string) ([]Comment, error) {
	rows, err := c.DB.QueryContext(ctx, `SELECT id,issue_id,author,body,COALESCE(from_status,''),COALESCE(to_status,''),created_at FROM comments WHERE issue_id=? ORDER BY created_at`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Comment
	for rows.Next() {
		var cm Comment
		if err := rows.Scan(&cm.ID, &cm.IssueID, &cm.Author, &cm.Body, &cm.FromStatus, &cm.ToStatus, &cm.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, cm)
	}
	return res, rows.Err()
}
