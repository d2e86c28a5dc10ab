package jql

import (
	"fmt"
	"strings"
	"time"
)

// fieldColumns maps scalar fields onto columns of the issues table. Labels
// and text have no single column and are expanded structurally.
var fieldColumns = map[Field]string{
	FieldProject:     "project_key",
	FieldKey:         "key",
	FieldSummary:     "summary",
	FieldDescription: "description",
	FieldType:        "type_name",
	FieldStatus:      "status_name",
	FieldPriority:    "priority",
	FieldAssignee:    "assignee_email",
	FieldReporter:    "reporter_email",
	FieldCreated:     "created_at",
	FieldUpdated:     "updated_at",
	FieldResolved:    "resolved_at",
	FieldResolution:  "resolution",
	FieldDue:         "due_date",
	FieldEpic:        "epic_key",
	FieldParent:      "parent_key",
	FieldSprint:      "sprint_id",
}

// ToSQL compiles a predicate into a WHERE fragment over the issues table
// plus its bind arguments. Function and relative-date values are resolved
// against ctx at compile time, so the fragment is a snapshot of the query at
// one instant. Results must agree with Matches for the same clock and user.
func ToSQL(pred Predicate, ctx Context) (string, []any, error) {
	b := &sqlBuilder{ctx: ctx}
	where, err := b.compile(pred)
	if err != nil {
		return "", nil, err
	}
	return where, b.args, nil
}

type sqlBuilder struct {
	ctx  Context
	args []any
}

func (b *sqlBuilder) compile(pred Predicate) (string, error) {
	switch p := pred.(type) {
	case MatchAll:
		return "1=1", nil
	case And:
		left, err := b.compile(p.Left)
		if err != nil {
			return "", err
		}
		right, err := b.compile(p.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s AND %s)", left, right), nil
	case Or:
		left, err := b.compile(p.Left)
		if err != nil {
			return "", err
		}
		right, err := b.compile(p.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s OR %s)", left, right), nil
	case Not:
		child, err := b.compile(p.Child)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", child), nil
	case NullCheck:
		if p.Field == FieldLabels {
			return "NOT EXISTS (SELECT 1 FROM issue_labels il WHERE il.issue_id = issues.id)", nil
		}
		col := fieldColumns[p.Field]
		return fmt.Sprintf("(issues.%s IS NULL OR issues.%s = '')", col, col), nil
	case TextSearch:
		needle := stringForm(resolveValue(p.Value, b.ctx))
		b.args = append(b.args, needle, needle, needle)
		return "(instr(lower(issues.summary), lower(?)) > 0" +
			" OR instr(lower(issues.description), lower(?)) > 0" +
			" OR instr(lower(issues.key), lower(?)) > 0)", nil
	case Comparison:
		return b.comparison(p.Field, p.Op, resolveValue(p.Value, b.ctx))
	case Membership:
		return b.membership(p)
	}
	return "", fmt.Errorf("jql: cannot compile predicate %T to sql", pred)
}

func (b *sqlBuilder) comparison(field Field, op Op, val resolved) (string, error) {
	if val.isNull {
		return "1=0", nil
	}
	// Date literals normalize to the stored RFC3339 UTC shape before binding.
	if field.IsDate() && !val.isTime && !val.isNum {
		if t, err := parseStamp(val.str); err == nil {
			val = resolvedTime(t)
		}
	}
	if field == FieldLabels {
		return b.labelMatch(op, val)
	}
	col := "issues." + fieldColumns[field]
	switch op {
	case OpContains:
		b.args = append(b.args, stringForm(val))
		return fmt.Sprintf("instr(lower(%s), lower(?)) > 0", col), nil
	case OpEQ:
		b.args = append(b.args, bindValue(val))
		return fmt.Sprintf("%s = ?", col), nil
	}
	sqlOp, ok := map[Op]string{OpLT: "<", OpLE: "<=", OpGT: ">", OpGE: ">="}[op]
	if !ok {
		return "", fmt.Errorf("jql: cannot compile operator %v to sql", op)
	}
	// A date field ordered against something that is not a timestamp can
	// never match.
	if field.IsDate() && !val.isTime {
		return "1=0", nil
	}
	// Ordered numeric comparison against text columns casts so that '9' < '10'
	// holds, guarded so non-numeric text never coerces to 0. Timestamps stay
	// lexicographic: RFC3339 UTC sorts correctly.
	if val.isNum {
		b.args = append(b.args, val.num)
		return fmt.Sprintf("(%s AND CAST(%s AS REAL) %s ?)", numericShape(col), col, sqlOp), nil
	}
	b.args = append(b.args, bindValue(val))
	return fmt.Sprintf("(%s != '' AND %s %s ?)", col, col, sqlOp), nil
}

// numericShape matches an optionally signed decimal, the same text shape
// decimalRe accepts on the in-memory side.
func numericShape(col string) string {
	t := fmt.Sprintf("ltrim(%s, '+-')", col)
	return fmt.Sprintf("(%s <> '' AND length(%s) - length(%s) <= 1"+
		" AND %s NOT GLOB '*[^0-9.]*' AND %s NOT GLOB '*.*.*'"+
		" AND %s NOT GLOB '.*' AND %s NOT GLOB '*.')",
		t, col, t, t, t, t, t)
}

func (b *sqlBuilder) labelMatch(op Op, val resolved) (string, error) {
	switch op {
	case OpEQ:
		b.args = append(b.args, bindValue(val))
		return "EXISTS (SELECT 1 FROM issue_labels il WHERE il.issue_id = issues.id AND il.label = ?)", nil
	case OpContains:
		b.args = append(b.args, stringForm(val))
		return "EXISTS (SELECT 1 FROM issue_labels il WHERE il.issue_id = issues.id AND instr(lower(il.label), lower(?)) > 0)", nil
	}
	return "", fmt.Errorf("jql: labels do not support ordered comparison")
}

func (b *sqlBuilder) membership(p Membership) (string, error) {
	if len(p.Values) == 0 {
		return "1=0", nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(p.Values)), ", ")
	for _, v := range p.Values {
		val := resolveValue(v, b.ctx)
		// Date literals normalize the same way comparison normalizes them.
		if p.Field.IsDate() && !val.isTime && !val.isNum {
			if t, err := parseStamp(val.str); err == nil {
				val = resolvedTime(t)
			}
		}
		b.args = append(b.args, bindValue(val))
	}
	if p.Field == FieldLabels {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM issue_labels il WHERE il.issue_id = issues.id AND il.label IN (%s))", placeholders), nil
	}
	return fmt.Sprintf("issues.%s IN (%s)", fieldColumns[p.Field], placeholders), nil
}

// bindValue renders a resolved value as a bind argument. Everything binds as
// text because the issue columns are text; timestamps use the stored RFC3339
// UTC shape.
func bindValue(val resolved) any {
	if val.isTime {
		return val.t.UTC().Format(time.RFC3339)
	}
	return stringForm(val)
}
