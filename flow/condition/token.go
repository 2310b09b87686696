// Package condition evaluates the boolean expressions that gate playbook
// steps. Expressions combine variables, literals, comparison operators, and
// a fixed set of builtin functions. Binary operators chain strictly left to
// right with no precedence levels; parentheses group explicitly.
package condition

import "fmt"

// TokenKind classifies a lexed token.
type TokenKind string

const (
	TokenVariable   TokenKind = "variable"
	TokenString     TokenKind = "string"
	TokenNumber     TokenKind = "number"
	TokenBoolean    TokenKind = "boolean"
	TokenOperator   TokenKind = "operator"
	TokenFunction   TokenKind = "function"
	TokenLeftParen  TokenKind = "left_paren"
	TokenRightParen TokenKind = "right_paren"
	TokenComma      TokenKind = "comma"
)

// Token is a single lexeme with its byte offset in the source expression.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// SyntaxError reports a malformed expression with the offending position.
type SyntaxError struct {
	Expr    string
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d in %q: %s", e.Pos, e.Expr, e.Message)
}

// EvaluationError reports a well-formed expression that cannot be evaluated
// against the supplied variables.
type EvaluationError struct {
	Expr    string
	Message string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expr, e.Message)
}
