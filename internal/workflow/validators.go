package workflow

import (
	"fmt"

	"stateline/internal/domain"
)

// Data is the caller-supplied payload for a transition attempt. Fields feed
// field_required validators and are written to the issue on execution;
// Resolution and Comment feed their validators and the resolution write and
// comment attach.
type Data struct {
	Fields     map[string]string
	Resolution string
	Comment    string
}

// runValidators collects every validator failure. It never stops at the
// first error: the caller gets the complete list.
func runValidators(t *domain.Transition, issue *domain.Issue, data Data) []string {
	v := t.Validators
	var errs []string

	for _, name := range v.FieldRequired {
		value := data.Fields[name]
		if value == "" {
			value, _ = issueAttr(issue, name)
		}
		if value == "" {
			errs = append(errs, fmt.Sprintf("Field '%s' is required", name))
		}
	}

	if v.ResolutionRequired {
		if data.Resolution == "" && issue.Resolution == "" {
			errs = append(errs, "Resolution is required")
		}
	}

	if v.CommentRequired {
		if data.Comment == "" {
			errs = append(errs, "Comment is required")
		}
	}

	for _, name := range v.CustomFieldRequired {
		if issue.CustomFields[name] == "" {
			errs = append(errs, fmt.Sprintf("Custom field '%s' is required", name))
		}
	}

	return errs
}
