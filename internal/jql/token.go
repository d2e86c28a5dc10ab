package jql

// TokenType identifies a lexical class. Keyword types are matched before
// IDENTIFIER so `and` never lexes as a field name.
type TokenType string

const (
	TokAnd         TokenType = "AND"
	TokOr          TokenType = "OR"
	TokNot         TokenType = "NOT"
	TokIn          TokenType = "IN"
	TokIs          TokenType = "IS"
	TokWas         TokenType = "WAS"
	TokChanged     TokenType = "CHANGED"
	TokEmpty       TokenType = "EMPTY"
	TokNull        TokenType = "NULL"
	TokFunction    TokenType = "FUNCTION"
	TokEq          TokenType = "EQ"
	TokNe          TokenType = "NE"
	TokLt          TokenType = "LT"
	TokLe          TokenType = "LE"
	TokGt          TokenType = "GT"
	TokGe          TokenType = "GE"
	TokContains    TokenType = "CONTAINS"
	TokNotContains TokenType = "NOT_CONTAINS"
	TokString      TokenType = "STRING"
	TokNumber      TokenType = "NUMBER"
	TokRelDate     TokenType = "RELDATE"
	TokIdentifier  TokenType = "IDENTIFIER"
	TokLParen      TokenType = "LPAREN"
	TokRParen      TokenType = "RPAREN"
	TokComma       TokenType = "COMMA"
)

// Token is one lexed unit. Pos is the byte offset of the first character in
// the original query, used for error reporting.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}
