package jql

import (
	"regexp"
	"strings"
)

type lexPattern struct {
	typ TokenType
	re  *regexp.Regexp
}

// Patterns are tried in order and the first match wins. Keywords come before
// IDENTIFIER, FUNCTION before IDENTIFIER, two-character operators before
// their one-character prefixes, and RELDATE before NUMBER so `-7d` lexes as
// a single token.
var lexPatterns = []lexPattern{
	{TokAnd, regexp.MustCompile(`^(?i)AND\b`)},
	{TokOr, regexp.MustCompile(`^(?i)OR\b`)},
	{TokNot, regexp.MustCompile(`^(?i)NOT\b`)},
	{TokIn, regexp.MustCompile(`^(?i)IN\b`)},
	{TokIs, regexp.MustCompile(`^(?i)IS\b`)},
	{TokWas, regexp.MustCompile(`^(?i)WAS\b`)},
	{TokChanged, regexp.MustCompile(`^(?i)CHANGED\b`)},
	{TokEmpty, regexp.MustCompile(`^(?i)EMPTY\b`)},
	{TokNull, regexp.MustCompile(`^(?i)NULL\b`)},
	{TokFunction, regexp.MustCompile(`^(?i)(currentUser|now|startOfDay|endOfDay|startOfWeek|endOfWeek|startOfMonth|endOfMonth)\s*\(\)`)},
	{TokNotContains, regexp.MustCompile(`^!~`)},
	{TokNe, regexp.MustCompile(`^!=`)},
	{TokLe, regexp.MustCompile(`^<=`)},
	{TokGe, regexp.MustCompile(`^>=`)},
	{TokEq, regexp.MustCompile(`^=`)},
	{TokLt, regexp.MustCompile(`^<`)},
	{TokGt, regexp.MustCompile(`^>`)},
	{TokContains, regexp.MustCompile(`^~`)},
	{TokString, regexp.MustCompile(`^"([^"\\]|\\.)*"`)},
	{TokRelDate, regexp.MustCompile(`^[+-]\d+[dwmy]\b`)},
	{TokNumber, regexp.MustCompile(`^-?\d+(\.\d+)?`)},
	{TokIdentifier, regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*`)},
	{TokLParen, regexp.MustCompile(`^\(`)},
	{TokRParen, regexp.MustCompile(`^\)`)},
	{TokComma, regexp.MustCompile(`^,`)},
}

var wsRe = regexp.MustCompile(`^\s+`)

// Tokenize lexes a query into tokens. Whitespace is discarded. It fails with
// *SyntaxError at the first position no pattern matches.
func Tokenize(query string) ([]Token, error) {
	var tokens []Token
	pos := 0
	for pos < len(query) {
		rest := query[pos:]
		if m := wsRe.FindString(rest); m != "" {
			pos += len(m)
			continue
		}
		matched := false
		for _, p := range lexPatterns {
			m := p.re.FindString(rest)
			if m == "" {
				continue
			}
			tokens = append(tokens, Token{Type: p.typ, Value: normalizeToken(p.typ, m), Pos: pos})
			pos += len(m)
			matched = true
			break
		}
		if !matched {
			snippet := rest
			if len(snippet) > 20 {
				snippet = snippet[:20]
			}
			return nil, &SyntaxError{Pos: pos, Snippet: snippet}
		}
	}
	return tokens, nil
}

func normalizeToken(typ TokenType, raw string) string {
	switch typ {
	case TokString:
		return raw[1 : len(raw)-1]
	case TokFunction:
		name := strings.TrimSuffix(raw, ")")
		name = strings.TrimSuffix(name, "(")
		return strings.ToLower(strings.TrimSpace(name))
	}
	return raw
}
