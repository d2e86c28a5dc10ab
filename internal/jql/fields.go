package jql

// Field is a logical query field. Every identifier in field position must
// resolve through this registry; anything else is an UnknownFieldError.
type Field int

const (
	FieldProject Field = iota
	FieldKey
	FieldSummary
	FieldDescription
	FieldType
	FieldStatus
	FieldPriority
	FieldAssignee
	FieldReporter
	FieldCreated
	FieldUpdated
	FieldResolved
	FieldResolution
	FieldDue
	FieldLabels
	FieldText
	FieldEpic
	FieldParent
	FieldSprint
)

var fieldNames = map[string]Field{
	"project":     FieldProject,
	"key":         FieldKey,
	"summary":     FieldSummary,
	"description": FieldDescription,
	"type":        FieldType,
	"issuetype":   FieldType,
	"status":      FieldStatus,
	"priority":    FieldPriority,
	"assignee":    FieldAssignee,
	"reporter":    FieldReporter,
	"created":     FieldCreated,
	"updated":     FieldUpdated,
	"resolved":    FieldResolved,
	"resolution":  FieldResolution,
	"due":         FieldDue,
	"labels":      FieldLabels,
	"text":        FieldText,
	"epic":        FieldEpic,
	"parent":      FieldParent,
	"sprint":      FieldSprint,
}

var fieldLabels = map[Field]string{
	FieldProject:     "project",
	FieldKey:         "key",
	FieldSummary:     "summary",
	FieldDescription: "description",
	FieldType:        "type",
	FieldStatus:      "status",
	FieldPriority:    "priority",
	FieldAssignee:    "assignee",
	FieldReporter:    "reporter",
	FieldCreated:     "created",
	FieldUpdated:     "updated",
	FieldResolved:    "resolved",
	FieldResolution:  "resolution",
	FieldDue:         "due",
	FieldLabels:      "labels",
	FieldText:        "text",
	FieldEpic:        "epic",
	FieldParent:      "parent",
	FieldSprint:      "sprint",
}

// LookupField resolves an identifier (case-insensitive) to a Field.
func LookupField(name string) (Field, bool) {
	f, ok := fieldNames[name]
	return f, ok
}

func (f Field) String() string { return fieldLabels[f] }

// IsDate reports whether the field holds a timestamp and so participates in
// relative-date and function-value resolution.
func (f Field) IsDate() bool {
	switch f {
	case FieldCreated, FieldUpdated, FieldResolved, FieldDue:
		return true
	}
	return false
}
