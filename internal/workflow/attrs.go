package workflow

import (
	"fmt"

	"stateline/internal/domain"
)

// Readable and writable issue attributes, keyed by the names condition,
// validator and post-function configs use. Writes are restricted to a closed
// scalar set so a workflow config can never reach identity or audit fields.

var issueReaders = map[string]func(*domain.Issue) string{
	"key":         func(is *domain.Issue) string { return is.Key },
	"summary":     func(is *domain.Issue) string { return is.Summary },
	"description": func(is *domain.Issue) string { return is.Description },
	"type":        func(is *domain.Issue) string { return is.TypeName },
	"status":      func(is *domain.Issue) string { return is.StatusName },
	"priority":    func(is *domain.Issue) string { return is.Priority },
	"assignee":    func(is *domain.Issue) string { return is.AssigneeEmail },
	"reporter":    func(is *domain.Issue) string { return is.ReporterEmail },
	"resolution":  func(is *domain.Issue) string { return is.Resolution },
	"due_date":    func(is *domain.Issue) string { return is.DueDate },
	"epic":        func(is *domain.Issue) string { return is.EpicKey },
	"parent":      func(is *domain.Issue) string { return is.ParentKey },
	"sprint":      func(is *domain.Issue) string { return is.SprintID },
}

var issueWriters = map[string]func(*domain.Issue, string){
	"summary":     func(is *domain.Issue, v string) { is.Summary = v },
	"description": func(is *domain.Issue, v string) { is.Description = v },
	"priority":    func(is *domain.Issue, v string) { is.Priority = v },
	"assignee":    func(is *domain.Issue, v string) { is.AssigneeEmail = v },
	"resolution":  func(is *domain.Issue, v string) { is.Resolution = v },
	"due_date":    func(is *domain.Issue, v string) { is.DueDate = v },
	"epic":        func(is *domain.Issue, v string) { is.EpicKey = v },
	"parent":      func(is *domain.Issue, v string) { is.ParentKey = v },
	"sprint":      func(is *domain.Issue, v string) { is.SprintID = v },
}

func issueAttr(issue *domain.Issue, name string) (string, bool) {
	get, ok := issueReaders[name]
	if !ok {
		return "", false
	}
	return get(issue), true
}

func setIssueAttr(issue *domain.Issue, name, value string) error {
	set, ok := issueWriters[name]
	if !ok {
		return fmt.Errorf("attribute %q is not writable", name)
	}
	set(issue, value)
	return nil
}
