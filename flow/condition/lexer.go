package condition

import (
	"strings"
	"sync"
	"unicode"
)

// tokenCache memoizes tokenization keyed by expression text. Conditions are
// re-evaluated on every step transition, so the same handful of expressions
// gets lexed many times. The cache is cleared when it grows past the bound.
var tokenCache = struct {
	mu      sync.Mutex
	entries map[string][]Token
}{entries: make(map[string][]Token)}

const tokenCacheLimit = 512

func tokenize(expr string) ([]Token, error) {
	tokenCache.mu.Lock()
	cached, ok := tokenCache.entries[expr]
	tokenCache.mu.Unlock()
	if ok {
		return cached, nil
	}

	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}

	tokenCache.mu.Lock()
	if len(tokenCache.entries) >= tokenCacheLimit {
		tokenCache.entries = make(map[string][]Token)
	}
	tokenCache.entries[expr] = tokens
	tokenCache.mu.Unlock()
	return tokens, nil
}

func lex(expr string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++

		case ch == '(':
			tokens = append(tokens, Token{Kind: TokenLeftParen, Text: "(", Pos: i})
			i++
		case ch == ')':
			tokens = append(tokens, Token{Kind: TokenRightParen, Text: ")", Pos: i})
			i++
		case ch == ',':
			tokens = append(tokens, Token{Kind: TokenComma, Text: ",", Pos: i})
			i++

		case ch == '\'' || ch == '"':
			end := strings.IndexByte(expr[i+1:], ch)
			if end < 0 {
				return nil, &SyntaxError{Expr: expr, Pos: i, Message: "unterminated string"}
			}
			tokens = append(tokens, Token{Kind: TokenString, Text: expr[i+1 : i+1+end], Pos: i})
			i += end + 2

		case ch == '=' || ch == '!' || ch == '>' || ch == '<':
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, Token{Kind: TokenOperator, Text: expr[i : i+2], Pos: i})
				i += 2
			} else if ch == '>' || ch == '<' {
				tokens = append(tokens, Token{Kind: TokenOperator, Text: string(ch), Pos: i})
				i++
			} else {
				return nil, &SyntaxError{Expr: expr, Pos: i, Message: "unexpected character " + string(ch)}
			}

		case ch >= '0' && ch <= '9' || ch == '-' && numberFollows(expr, i) && valueExpected(tokens):
			start := i
			if ch == '-' {
				i++
			}
			for i < len(expr) && (expr[i] >= '0' && expr[i] <= '9' || expr[i] == '.') {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenNumber, Text: expr[start:i], Pos: start})

		case isIdentStart(rune(ch)):
			start := i
			for i < len(expr) && isIdentPart(rune(expr[i])) {
				i++
			}
			word := expr[start:i]
			tokens = append(tokens, classifyWord(word, start, expr, i))

		default:
			return nil, &SyntaxError{Expr: expr, Pos: i, Message: "unexpected character " + string(ch)}
		}
	}
	return tokens, nil
}

// classifyWord decides whether an identifier is a boolean literal, a boolean
// operator, a function call head, or a variable reference.
func classifyWord(word string, pos int, expr string, after int) Token {
	switch word {
	case "true", "false":
		return Token{Kind: TokenBoolean, Text: word, Pos: pos}
	case "and", "or", "not":
		return Token{Kind: TokenOperator, Text: word, Pos: pos}
	}
	for after < len(expr) && expr[after] == ' ' {
		after++
	}
	if after < len(expr) && expr[after] == '(' {
		return Token{Kind: TokenFunction, Text: word, Pos: pos}
	}
	return Token{Kind: TokenVariable, Text: word, Pos: pos}
}

// valueExpected reports whether the next token position can start a value,
// which is where a leading minus sign reads as a negative number.
func valueExpected(tokens []Token) bool {
	if len(tokens) == 0 {
		return true
	}
	switch tokens[len(tokens)-1].Kind {
	case TokenOperator, TokenComma, TokenLeftParen:
		return true
	}
	return false
}

func numberFollows(expr string, i int) bool {
	return i+1 < len(expr) && expr[i+1] >= '0' && expr[i+1] <= '9'
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}
