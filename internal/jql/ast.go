package jql

// Op is a comparison operator on a leaf predicate. NE and NOT_CONTAINS never
// appear here: the parser emits them as Not-wrapped OpEQ / OpContains.
type Op int

const (
	OpEQ Op = iota
	OpLT
	OpLE
	OpGT
	OpGE
	OpContains
)

var opLabels = map[Op]string{
	OpEQ:       "=",
	OpLT:       "<",
	OpLE:       "<=",
	OpGT:       ">",
	OpGE:       ">=",
	OpContains: "~",
}

func (o Op) String() string { return opLabels[o] }

// ValueKind discriminates the literal kinds a comparison can carry.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueFunc
	ValueRelDate
)

// Value is a literal or deferred function reference. Func and RelDate values
// resolve at evaluation time against a (user, clock) context, never at parse
// time.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
}

// Predicate is a node in the boolean predicate tree.
type Predicate interface {
	pred()
}

// And matches when every child matches.
type And struct {
	Left, Right Predicate
}

// Or matches when either child matches.
type Or struct {
	Left, Right Predicate
}

// Not inverts its child.
type Not struct {
	Child Predicate
}

// Comparison is a field-operator-value leaf.
type Comparison struct {
	Field Field
	Op    Op
	Value Value
}

// Membership is `field IN (v1, v2, ...)`. An empty list matches nothing.
type Membership struct {
	Field  Field
	Values []Value
}

// NullCheck matches when the field is unset.
type NullCheck struct {
	Field Field
}

// TextSearch is the `text ~` pseudo-field: a case-insensitive substring
// match across summary, description and key.
type TextSearch struct {
	Value Value
}

// MatchAll matches every issue. It is the parse of an empty query and the
// degraded form of clauses the language keeps but cannot express.
type MatchAll struct{}

func (And) pred()        {}
func (Or) pred()         {}
func (Not) pred()        {}
func (Comparison) pred() {}
func (Membership) pred() {}
func (NullCheck) pred()  {}
func (TextSearch) pred() {}
func (MatchAll) pred()   {}
