package jql

import (
	"strconv"
	"strings"
)

// parser is a recursive-descent parser over a token slice. Precedence, lowest
// to highest: OR, AND, NOT, primary.
type parser struct {
	tokens []Token
	pos    int
}

// Parse turns a token stream into a predicate tree. An empty stream parses to
// MatchAll.
func Parse(tokens []Token) (Predicate, error) {
	if len(tokens) == 0 {
		return MatchAll{}, nil
	}
	p := &parser{tokens: tokens}
	pred, err := p.orExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.current(); tok != nil {
		return nil, parseErrorf(tok.Pos, "unexpected %s %q after expression", tok.Type, tok.Value)
	}
	return pred, nil
}

// ParseQuery lexes and parses in one step.
func ParseQuery(query string) (Predicate, error) {
	tokens, err := Tokenize(query)
	if err != nil {
		return nil, err
	}
	return Parse(tokens)
}

// Validate reports whether a query is well-formed without evaluating it.
func Validate(query string) error {
	_, err := ParseQuery(query)
	return err
}

func (p *parser) current() *Token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) consume(expected TokenType) (Token, error) {
	tok := p.current()
	if tok == nil {
		return Token{}, parseErrorf(p.endPos(), "unexpected end of query, expected %s", expected)
	}
	if expected != "" && tok.Type != expected {
		return Token{}, parseErrorf(tok.Pos, "expected %s, got %s %q", expected, tok.Type, tok.Value)
	}
	p.pos++
	return *tok, nil
}

func (p *parser) endPos() int {
	if len(p.tokens) == 0 {
		return 0
	}
	last := p.tokens[len(p.tokens)-1]
	return last.Pos + len(last.Value)
}

func (p *parser) orExpr() (Predicate, error) {
	left, err := p.andExpr()
	if err != nil {
		return nil, err
	}
	for tok := p.current(); tok != nil && tok.Type == TokOr; tok = p.current() {
		p.pos++
		right, err := p.andExpr()
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) andExpr() (Predicate, error) {
	left, err := p.notExpr()
	if err != nil {
		return nil, err
	}
	for tok := p.current(); tok != nil && tok.Type == TokAnd; tok = p.current() {
		p.pos++
		right, err := p.notExpr()
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) notExpr() (Predicate, error) {
	if tok := p.current(); tok != nil && tok.Type == TokNot {
		p.pos++
		child, err := p.primary()
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Predicate, error) {
	if tok := p.current(); tok != nil && tok.Type == TokLParen {
		p.pos++
		expr, err := p.orExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(TokRParen); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Predicate, error) {
	fieldTok, err := p.consume(TokIdentifier)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(fieldTok.Value)
	field, ok := LookupField(name)
	if !ok {
		return nil, &UnknownFieldError{Field: name}
	}

	opTok := p.current()
	if opTok == nil {
		return nil, parseErrorf(p.endPos(), "expected operator after field %q", name)
	}

	switch opTok.Type {
	case TokIs:
		return p.isClause(field)
	case TokIn:
		return p.inClause(field)
	case TokWas:
		return p.wasClause(field)
	}

	op, negated, ok := mapOperator(opTok.Type)
	if !ok {
		return nil, parseErrorf(opTok.Pos, "invalid operator %s", opTok.Type)
	}
	p.pos++

	value, err := p.value()
	if err != nil {
		return nil, err
	}

	var pred Predicate
	if field == FieldText {
		pred = TextSearch{Value: value}
	} else {
		pred = Comparison{Field: field, Op: op, Value: value}
	}
	if negated {
		pred = Not{Child: pred}
	}
	return pred, nil
}

// mapOperator maps an operator token onto an Op, with NE and NOT_CONTAINS
// reduced to a negated EQ / Contains.
func mapOperator(t TokenType) (op Op, negated, ok bool) {
	switch t {
	case TokEq:
		return OpEQ, false, true
	case TokNe:
		return OpEQ, true, true
	case TokLt:
		return OpLT, false, true
	case TokLe:
		return OpLE, false, true
	case TokGt:
		return OpGT, false, true
	case TokGe:
		return OpGE, false, true
	case TokContains:
		return OpContains, false, true
	case TokNotContains:
		return OpContains, true, true
	}
	return 0, false, false
}

func (p *parser) isClause(field Field) (Predicate, error) {
	p.pos++ // IS
	tok := p.current()
	if tok == nil || (tok.Type != TokEmpty && tok.Type != TokNull) {
		pos := p.endPos()
		if tok != nil {
			pos = tok.Pos
		}
		return nil, parseErrorf(pos, "expected EMPTY or NULL after IS")
	}
	p.pos++
	if field == FieldText {
		return MatchAll{}, nil
	}
	return NullCheck{Field: field}, nil
}

func (p *parser) inClause(field Field) (Predicate, error) {
	p.pos++ // IN
	if _, err := p.consume(TokLParen); err != nil {
		return nil, err
	}
	var values []Value
	for {
		tok := p.current()
		if tok == nil {
			return nil, parseErrorf(p.endPos(), "expected ) or , in IN clause")
		}
		if tok.Type == TokRParen {
			p.pos++
			break
		}
		if len(values) > 0 {
			if tok.Type != TokComma {
				return nil, parseErrorf(tok.Pos, "unexpected %s in IN clause", tok.Type)
			}
			p.pos++
		}
		value, err := p.value()
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	if field == FieldText {
		return MatchAll{}, nil
	}
	return Membership{Field: field, Values: values}, nil
}

// wasClause keeps WAS as an alias for the current value. There is no issue
// history to query.
func (p *parser) wasClause(field Field) (Predicate, error) {
	p.pos++ // WAS
	if tok := p.current(); tok != nil && (tok.Type == TokEmpty || tok.Type == TokNull) {
		p.pos++
		if field == FieldText {
			return MatchAll{}, nil
		}
		return NullCheck{Field: field}, nil
	}
	value, err := p.value()
	if err != nil {
		return nil, err
	}
	if field == FieldText {
		return TextSearch{Value: value}, nil
	}
	return Comparison{Field: field, Op: OpEQ, Value: value}, nil
}

func (p *parser) value() (Value, error) {
	tok := p.current()
	if tok == nil {
		return Value{}, parseErrorf(p.endPos(), "expected value")
	}
	switch tok.Type {
	case TokString, TokIdentifier:
		p.pos++
		return Value{Kind: ValueString, Str: tok.Value}, nil
	case TokNumber:
		p.pos++
		n, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return Value{}, parseErrorf(tok.Pos, "invalid number %q", tok.Value)
		}
		return Value{Kind: ValueNumber, Num: n, Str: tok.Value}, nil
	case TokRelDate:
		p.pos++
		return Value{Kind: ValueRelDate, Str: tok.Value}, nil
	case TokFunction:
		p.pos++
		return Value{Kind: ValueFunc, Str: tok.Value}, nil
	}
	return Value{}, parseErrorf(tok.Pos, "unexpected %s as value", tok.Type)
}
