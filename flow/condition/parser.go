package condition

import "strconv"

// node is a parsed expression fragment.
type node interface {
	eval(ev *evaluator) (interface{}, error)
}

type literalNode struct {
	value interface{}
}

type variableNode struct {
	name string
}

type notNode struct {
	operand node
}

// binaryNode applies one operator. Chains of operators associate left to
// right with no precedence levels, so `a and b or c` parses as
// `(a and b) or c` and `x > 1 and y` as `(x > 1) and y`.
type binaryNode struct {
	op    string
	left  node
	right node
}

type callNode struct {
	name string
	args []node
}

type parser struct {
	expr   string
	tokens []Token
	pos    int
}

// parse builds the AST for an expression, memoizing nothing beyond the token
// cache: trees are cheap relative to lexing.
func parse(expr string) (node, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{expr: expr, tokens: tokens}
	root, err := p.expression()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		return nil, &SyntaxError{Expr: expr, Pos: t.Pos, Message: "unexpected token " + t.Text}
	}
	return root, nil
}

// expression := term (operator term)*
func (p *parser) expression() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) {
		t := p.tokens[p.pos]
		if t.Kind != TokenOperator || t.Text == "not" {
			break
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.Text, left: left, right: right}
	}
	return left, nil
}

// term := 'not' term | '(' expression ')' | function '(' args ')' | literal | variable
func (p *parser) term() (node, error) {
	if p.pos >= len(p.tokens) {
		return nil, &SyntaxError{Expr: p.expr, Pos: len(p.expr), Message: "unexpected end of expression"}
	}
	t := p.tokens[p.pos]
	switch t.Kind {
	case TokenOperator:
		if t.Text != "not" {
			return nil, &SyntaxError{Expr: p.expr, Pos: t.Pos, Message: "unexpected operator " + t.Text}
		}
		p.pos++
		operand, err := p.term()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil

	case TokenLeftParen:
		p.pos++
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRightParen); err != nil {
			return nil, err
		}
		return inner, nil

	case TokenFunction:
		return p.call()

	case TokenBoolean:
		p.pos++
		return &literalNode{value: t.Text == "true"}, nil

	case TokenNumber:
		p.pos++
		f, err := strconv.ParseFloat(t.Text, 64)
		if err != nil {
			return nil, &SyntaxError{Expr: p.expr, Pos: t.Pos, Message: "malformed number " + t.Text}
		}
		return &literalNode{value: f}, nil

	case TokenString:
		p.pos++
		return &literalNode{value: t.Text}, nil

	case TokenVariable:
		p.pos++
		return &variableNode{name: t.Text}, nil
	}
	return nil, &SyntaxError{Expr: p.expr, Pos: t.Pos, Message: "unexpected token " + t.Text}
}

func (p *parser) call() (node, error) {
	name := p.tokens[p.pos]
	p.pos++
	if _, ok := builtins[name.Text]; !ok {
		return nil, &SyntaxError{Expr: p.expr, Pos: name.Pos, Message: "unknown function " + name.Text}
	}
	if err := p.expect(TokenLeftParen); err != nil {
		return nil, err
	}
	var args []node
	if p.pos < len(p.tokens) && p.tokens[p.pos].Kind == TokenRightParen {
		p.pos++
		return &callNode{name: name.Text, args: args}, nil
	}
	for {
		arg, err := p.expression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.pos < len(p.tokens) && p.tokens[p.pos].Kind == TokenComma {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(TokenRightParen); err != nil {
		return nil, err
	}
	return &callNode{name: name.Text, args: args}, nil
}

func (p *parser) expect(kind TokenKind) error {
	if p.pos >= len(p.tokens) {
		return &SyntaxError{Expr: p.expr, Pos: len(p.expr), Message: "unexpected end of expression"}
	}
	if p.tokens[p.pos].Kind != kind {
		t := p.tokens[p.pos]
		return &SyntaxError{Expr: p.expr, Pos: t.Pos, Message: "unexpected token " + t.Text}
	}
	p.pos++
	return nil
}
