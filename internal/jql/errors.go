package jql

import "fmt"

// SyntaxError reports an unlexable character sequence. Snippet holds up to
// 20 characters starting at the failure position.
type SyntaxError struct {
	Pos     int
	Snippet string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("jql: syntax error at position %d: %q", e.Pos, e.Snippet)
}

// UnknownFieldError reports an identifier in field position that is not in
// the field registry.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("jql: unknown field %q", e.Field)
}

// ParseError reports a structurally invalid token stream.
type ParseError struct {
	Msg string
	Pos int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jql: parse error at position %d: %s", e.Pos, e.Msg)
}

func parseErrorf(pos int, format string, args ...any) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}
