package jql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"stateline/internal/domain"
)

// Context carries what evaluation-time values resolve against: the acting
// user for currentUser() and a clock for now(), the startOf/endOf family and
// relative dates. A nil Now falls back to time.Now.
type Context struct {
	User *domain.User
	Now  func() time.Time
}

func (c Context) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// resolved is a field or query value reduced to one of the comparable kinds.
type resolved struct {
	isNull bool
	isNum  bool
	isTime bool
	str    string
	num    float64
	t      time.Time
}

func resolvedString(s string) resolved {
	if s == "" {
		return resolved{isNull: true}
	}
	return resolved{str: s}
}

func resolvedTime(t time.Time) resolved {
	return resolved{isTime: true, t: t}
}

// fieldAccessors maps scalar fields onto issue attributes. Labels and text
// are handled separately by the evaluator.
var fieldAccessors = map[Field]func(*domain.Issue) resolved{
	FieldProject:     func(is *domain.Issue) resolved { return resolvedString(is.ProjectKey) },
	FieldKey:         func(is *domain.Issue) resolved { return resolvedString(is.Key) },
	FieldSummary:     func(is *domain.Issue) resolved { return resolvedString(is.Summary) },
	FieldDescription: func(is *domain.Issue) resolved { return resolvedString(is.Description) },
	FieldType:        func(is *domain.Issue) resolved { return resolvedString(is.TypeName) },
	FieldStatus:      func(is *domain.Issue) resolved { return resolvedString(is.StatusName) },
	FieldPriority:    func(is *domain.Issue) resolved { return resolvedString(is.Priority) },
	FieldAssignee:    func(is *domain.Issue) resolved { return resolvedString(is.AssigneeEmail) },
	FieldReporter:    func(is *domain.Issue) resolved { return resolvedString(is.ReporterEmail) },
	FieldCreated:     func(is *domain.Issue) resolved { return resolvedStamp(is.CreatedAt) },
	FieldUpdated:     func(is *domain.Issue) resolved { return resolvedStamp(is.UpdatedAt) },
	FieldResolved:    func(is *domain.Issue) resolved { return resolvedStamp(is.ResolvedAt) },
	FieldResolution:  func(is *domain.Issue) resolved { return resolvedString(is.Resolution) },
	FieldDue:         func(is *domain.Issue) resolved { return resolvedStamp(is.DueDate) },
	FieldEpic:        func(is *domain.Issue) resolved { return resolvedString(is.EpicKey) },
	FieldParent:      func(is *domain.Issue) resolved { return resolvedString(is.ParentKey) },
	FieldSprint:      func(is *domain.Issue) resolved { return resolvedString(is.SprintID) },
}

func resolvedStamp(s string) resolved {
	if s == "" {
		return resolved{isNull: true}
	}
	t, err := parseStamp(s)
	if err != nil {
		return resolved{isNull: true}
	}
	return resolvedTime(t)
}

func parseStamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var relDateRe = regexp.MustCompile(`^([+-])(\d+)([dwmy])$`)

// resolveRelDate turns `-7d` style literals into now ± offset. Months are 30
// days and years 365, a deliberate approximation.
func resolveRelDate(value string, now time.Time) (time.Time, bool) {
	m := relDateRe.FindStringSubmatch(value)
	if m == nil {
		return time.Time{}, false
	}
	amount, _ := strconv.Atoi(m[2])
	if m[1] == "-" {
		amount = -amount
	}
	var d time.Duration
	switch m[3] {
	case "d":
		d = time.Duration(amount) * 24 * time.Hour
	case "w":
		d = time.Duration(amount) * 7 * 24 * time.Hour
	case "m":
		d = time.Duration(amount) * 30 * 24 * time.Hour
	case "y":
		d = time.Duration(amount) * 365 * 24 * time.Hour
	}
	return now.Add(d), true
}

func resolveFunc(name string, ctx Context) resolved {
	now := ctx.now()
	switch name {
	case "currentuser":
		if ctx.User == nil {
			return resolved{isNull: true}
		}
		return resolvedString(ctx.User.Email)
	case "now":
		return resolvedTime(now)
	case "startofday":
		return resolvedTime(startOfDay(now))
	case "endofday":
		return resolvedTime(endOfDay(now))
	case "startofweek":
		return resolvedTime(startOfDay(now.AddDate(0, 0, -weekday(now))))
	case "endofweek":
		return resolvedTime(endOfDay(now.AddDate(0, 0, 6-weekday(now))))
	case "startofmonth":
		return resolvedTime(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC))
	case "endofmonth":
		firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		return resolvedTime(endOfDay(firstOfNext.AddDate(0, 0, -1)))
	}
	return resolved{isNull: true}
}

// weekday counts from Monday, matching ISO weeks.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, time.UTC)
}

// resolveValue reduces a query-side Value at evaluation time.
func resolveValue(v Value, ctx Context) resolved {
	switch v.Kind {
	case ValueNumber:
		return resolved{isNum: true, num: v.Num, str: v.Str}
	case ValueFunc:
		return resolveFunc(v.Str, ctx)
	case ValueRelDate:
		t, _ := resolveRelDate(v.Str, ctx.now())
		return resolvedTime(t)
	}
	// Quoted relative dates resolve too.
	if t, ok := resolveRelDate(v.Str, ctx.now()); ok {
		return resolvedTime(t)
	}
	return resolvedString(v.Str)
}

// Matches evaluates a predicate against one issue.
func Matches(pred Predicate, issue *domain.Issue, ctx Context) bool {
	switch p := pred.(type) {
	case MatchAll:
		return true
	case And:
		return Matches(p.Left, issue, ctx) && Matches(p.Right, issue, ctx)
	case Or:
		return Matches(p.Left, issue, ctx) || Matches(p.Right, issue, ctx)
	case Not:
		return !Matches(p.Child, issue, ctx)
	case NullCheck:
		return isNullField(p.Field, issue)
	case TextSearch:
		needle := strings.ToLower(resolveValue(p.Value, ctx).str)
		return containsFold(issue.Summary, needle) ||
			containsFold(issue.Description, needle) ||
			containsFold(issue.Key, needle)
	case Comparison:
		return compareField(p.Field, p.Op, resolveValue(p.Value, ctx), issue)
	case Membership:
		for _, v := range p.Values {
			if compareField(p.Field, OpEQ, resolveValue(v, ctx), issue) {
				return true
			}
		}
		return false
	}
	return false
}

// Filter returns the subset of issues matching the predicate, in input order.
func Filter(pred Predicate, issues []domain.Issue, ctx Context) []domain.Issue {
	var out []domain.Issue
	for i := range issues {
		if Matches(pred, &issues[i], ctx) {
			out = append(out, issues[i])
		}
	}
	return out
}

func isNullField(f Field, issue *domain.Issue) bool {
	if f == FieldLabels {
		return len(issue.Labels) == 0
	}
	return fieldAccessors[f](issue).isNull
}

func compareField(f Field, op Op, want resolved, issue *domain.Issue) bool {
	if f == FieldLabels {
		for _, l := range issue.Labels {
			if compareResolved(resolvedString(l), op, want) {
				return true
			}
		}
		return false
	}
	return compareResolved(fieldAccessors[f](issue), op, want)
}

func compareResolved(got resolved, op Op, want resolved) bool {
	if got.isNull || want.isNull {
		return false
	}
	switch op {
	case OpContains:
		return containsFold(stringForm(got), strings.ToLower(stringForm(want)))
	case OpEQ:
		return equalResolved(got, want)
	}
	cmp, ok := orderResolved(got, want)
	if !ok {
		return false
	}
	switch op {
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	}
	return false
}

func equalResolved(got, want resolved) bool {
	if got.isTime || want.isTime {
		gt, ok1 := timeForm(got)
		wt, ok2 := timeForm(want)
		return ok1 && ok2 && gt.Equal(wt)
	}
	if got.isNum || want.isNum {
		gn, ok1 := numForm(got)
		wn, ok2 := numForm(want)
		if ok1 && ok2 {
			return gn == wn
		}
	}
	return stringForm(got) == stringForm(want)
}

// orderResolved compares two values: as times when either is a time, as
// numbers when either is a number literal, otherwise as strings. A number
// against text that is not numeric-shaped never orders; it is no match.
func orderResolved(got, want resolved) (int, bool) {
	if got.isTime || want.isTime {
		gt, ok1 := timeForm(got)
		wt, ok2 := timeForm(want)
		if !ok1 || !ok2 {
			return 0, false
		}
		return gt.Compare(wt), true
	}
	if got.isNum || want.isNum {
		gn, ok1 := numForm(got)
		wn, ok2 := numForm(want)
		if !ok1 || !ok2 {
			return 0, false
		}
		switch {
		case gn < wn:
			return -1, true
		case gn > wn:
			return 1, true
		}
		return 0, true
	}
	return strings.Compare(stringForm(got), stringForm(want)), true
}

func timeForm(r resolved) (time.Time, bool) {
	if r.isTime {
		return r.t, true
	}
	if r.isNum {
		return time.Time{}, false
	}
	t, err := parseStamp(r.str)
	return t, err == nil
}

// decimalRe is the only numeric text shape that coerces. It matches the
// SQL-side numericShape guard exactly.
var decimalRe = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

func numForm(r resolved) (float64, bool) {
	if r.isNum {
		return r.num, true
	}
	if r.isTime || !decimalRe.MatchString(r.str) {
		return 0, false
	}
	n, err := strconv.ParseFloat(r.str, 64)
	return n, err == nil
}

func stringForm(r resolved) string {
	switch {
	case r.isTime:
		return r.t.Format(time.RFC3339)
	case r.isNum:
		if r.str != "" {
			return r.str
		}
		return strconv.FormatFloat(r.num, 'f', -1, 64)
	}
	return r.str
}

func containsFold(haystack, lowerNeedle string) bool {
	return strings.Contains(strings.ToLower(haystack), lowerNeedle)
}

// Describe renders a predicate back to a canonical textual form, used by
// debug output and tests.
func Describe(pred Predicate) string {
	switch p := pred.(type) {
	case MatchAll:
		return "*"
	case And:
		return fmt.Sprintf("(%s AND %s)", Describe(p.Left), Describe(p.Right))
	case Or:
		return fmt.Sprintf("(%s OR %s)", Describe(p.Left), Describe(p.Right))
	case Not:
		return fmt.Sprintf("(NOT %s)", Describe(p.Child))
	case NullCheck:
		return fmt.Sprintf("%s IS EMPTY", p.Field)
	case TextSearch:
		return fmt.Sprintf("text ~ %q", p.Value.Str)
	case Comparison:
		return fmt.Sprintf("%s %s %s", p.Field, p.Op, describeValue(p.Value))
	case Membership:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = describeValue(v)
		}
		return fmt.Sprintf("%s IN (%s)", p.Field, strings.Join(parts, ", "))
	}
	return "?"
}

func describeValue(v Value) string {
	switch v.Kind {
	case ValueNumber:
		return v.Str
	case ValueFunc:
		return v.Str + "()"
	case ValueRelDate:
		return v.Str
	}
	return strconv.Quote(v.Str)
}
