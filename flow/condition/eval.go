package condition

import (
	"fmt"
	"reflect"
)

type evaluator struct {
	expr string
	vars map[string]interface{}
}

// Evaluate parses the expression and reduces it to a boolean against the
// supplied variables. Unresolved variables evaluate to nil, which is falsy,
// so a condition over an absent variable is false rather than an error.
func Evaluate(expr string, vars map[string]interface{}) (bool, error) {
	root, err := parse(expr)
	if err != nil {
		return false, err
	}
	ev := &evaluator{expr: expr, vars: vars}
	v, err := root.eval(ev)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (n *literalNode) eval(*evaluator) (interface{}, error) {
	return n.value, nil
}

func (n *variableNode) eval(ev *evaluator) (interface{}, error) {
	return ev.vars[n.name], nil
}

func (n *notNode) eval(ev *evaluator) (interface{}, error) {
	v, err := n.operand.eval(ev)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func (n *binaryNode) eval(ev *evaluator) (interface{}, error) {
	left, err := n.left.eval(ev)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "and":
		// Short circuit; the deciding operand is the result.
		if !truthy(left) {
			return left, nil
		}
		return n.right.eval(ev)
	case "or":
		if truthy(left) {
			return left, nil
		}
		return n.right.eval(ev)
	}

	right, err := n.right.eval(ev)
	if err != nil {
		return nil, err
	}
	return ev.compare(n.op, left, right)
}

func (n *callNode) eval(ev *evaluator) (interface{}, error) {
	fn := builtins[n.name]
	args := make([]interface{}, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(ev)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	out, err := fn(args)
	if err != nil {
		return nil, &EvaluationError{Expr: ev.expr, Message: n.name + ": " + err.Error()}
	}
	return out, nil
}

// compare applies a comparison operator. Equality works across any pair of
// values; ordered comparisons need two numbers or two strings.
func (ev *evaluator) compare(op string, left, right interface{}) (interface{}, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch op {
		case ">":
			return ls > rs, nil
		case "<":
			return ls < rs, nil
		case ">=":
			return ls >= rs, nil
		case "<=":
			return ls <= rs, nil
		}
	}
	return nil, &EvaluationError{
		Expr:    ev.expr,
		Message: fmt.Sprintf("operator %s needs two numbers or two strings, got %T and %T", op, left, right),
	}
}

// looseEqual compares values after numeric normalization, so 2 == 2.0 and a
// JSON-decoded float matches an int variable.
func looseEqual(left, right interface{}) bool {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf
		}
		return false
	}
	return reflect.DeepEqual(left, right)
}

// truthy applies container-aware truthiness: nil, false, zero, empty string,
// and empty collections are false; everything else is true.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}
