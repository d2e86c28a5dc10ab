package workflow

import (
	"context"

	"stateline/internal/domain"
)

// RoleDirectory answers membership and role questions for a project. The
// baseline implementation is backed by the project_members table; richer
// permission models plug in behind this interface.
type RoleDirectory interface {
	IsMember(ctx context.Context, projectID, email string) (bool, error)
	HasRole(ctx context.Context, projectID, email, role string) (bool, error)
	ProjectLead(ctx context.Context, projectID string) (string, error)
}

// checkConditions reports whether every configured condition holds. Failing
// any single condition hides the transition; conditions yield yes or no,
// never an error message.
func (e Engine) checkConditions(ctx context.Context, t *domain.Transition, issue *domain.Issue, user *domain.User) (bool, error) {
	c := t.Conditions
	if c.IsZero() {
		return true, nil
	}

	if c.UserInRole != "" {
		if user == nil {
			return false, nil
		}
		ok, err := e.Roles.HasRole(ctx, issue.ProjectID, user.Email, c.UserInRole)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	if c.UserIsAssignee {
		if user == nil || issue.AssigneeEmail != user.Email {
			return false, nil
		}
	}

	if c.UserIsReporter {
		if user == nil || issue.ReporterEmail != user.Email {
			return false, nil
		}
	}

	for name, want := range c.FieldEquals {
		got, _ := issueAttr(issue, name)
		if got != want {
			return false, nil
		}
	}

	for _, name := range c.FieldNotEmpty {
		got, _ := issueAttr(issue, name)
		if got == "" {
			return false, nil
		}
	}

	if len(c.IssueTypes) > 0 {
		found := false
		for _, id := range c.IssueTypes {
			if id == issue.TypeID {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}

	return true, nil
}
