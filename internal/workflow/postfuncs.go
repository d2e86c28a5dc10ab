package workflow

import (
	"context"
	"fmt"
	"sort"

	"stateline/internal/domain"
)

// applyPostFunctions runs a transition's post-functions against the issue in
// canonical order: assign, update_field, set_resolution, copy_field. Map
// entries apply in sorted key order so repeated runs are deterministic. Any
// failure aborts the whole transition.
func (e Engine) applyPostFunctions(ctx context.Context, t *domain.Transition, issue *domain.Issue, user *domain.User) error {
	pf := t.PostFunctions
	if pf.IsZero() {
		return nil
	}

	if pf.AssignToUser != "" {
		if err := e.applyAssign(ctx, pf.AssignToUser, issue, user); err != nil {
			return err
		}
	}

	for _, name := range sortedKeys(pf.UpdateField) {
		if err := setIssueAttr(issue, name, pf.UpdateField[name]); err != nil {
			return fmt.Errorf("update_field: %w", err)
		}
	}

	if pf.SetResolution != "" {
		issue.Resolution = pf.SetResolution
	}

	for _, source := range sortedKeys(pf.CopyField) {
		value, ok := issueAttr(issue, source)
		if !ok {
			return fmt.Errorf("copy_field: unknown attribute %q", source)
		}
		if err := setIssueAttr(issue, pf.CopyField[source], value); err != nil {
			return fmt.Errorf("copy_field: %w", err)
		}
	}

	return nil
}

func (e Engine) applyAssign(ctx context.Context, target domain.AssignTarget, issue *domain.Issue, user *domain.User) error {
	switch target {
	case domain.AssignCurrentUser:
		if user == nil {
			return fmt.Errorf("assign_to_user: no acting user")
		}
		issue.AssigneeEmail = user.Email
	case domain.AssignReporter:
		issue.AssigneeEmail = issue.ReporterEmail
	case domain.AssignProjectLead:
		lead, err := e.Roles.ProjectLead(ctx, issue.ProjectID)
		if err != nil {
			return fmt.Errorf("assign_to_user: project lead: %w", err)
		}
		issue.AssigneeEmail = lead
	case domain.AssignUnassigned:
		issue.AssigneeEmail = ""
	default:
		return fmt.Errorf("assign_to_user: unknown target %q", target)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
