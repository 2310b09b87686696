package condition

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// builtin is an expression function. Arguments arrive already evaluated.
type builtin func(args []interface{}) (interface{}, error)

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"exists":          fnExists,
		"is_empty":        fnIsEmpty,
		"length":          fnLength,
		"count_items":     fnLength,
		"contains":        fnContains,
		"has_item":        fnContains,
		"contains_string": fnContainsString,
		"starts_with":     fnStartsWith,
		"ends_with":       fnEndsWith,
		"matches_regex":   fnMatchesRegex,
		"any_match":       fnAnyMatch,
		"all_match":       fnAllMatch,
		"is_string":       typePredicate(func(v interface{}) bool { _, ok := v.(string); return ok }),
		"is_number":       typePredicate(func(v interface{}) bool { _, ok := toFloat(v); return ok }),
		"is_boolean":      typePredicate(func(v interface{}) bool { _, ok := v.(bool); return ok }),
		"is_array":        typePredicate(isArray),
		"is_object":       typePredicate(isObject),
		"is_greater":      fnIsGreater,
		"is_less":         fnIsLess,
		"sum":             fnSum,
		"average":         fnAverage,
	}
}

func fnExists(args []interface{}) (interface{}, error) {
	if err := arity("exists", args, 1); err != nil {
		return nil, err
	}
	return args[0] != nil, nil
}

func fnIsEmpty(args []interface{}) (interface{}, error) {
	if err := arity("is_empty", args, 1); err != nil {
		return nil, err
	}
	switch t := args[0].(type) {
	case nil:
		return true, nil
	case string:
		return t == "", nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0, nil
	}
	return false, nil
}

func fnLength(args []interface{}) (interface{}, error) {
	if err := arity("length", args, 1); err != nil {
		return nil, err
	}
	if args[0] == nil {
		return float64(0), nil
	}
	if s, ok := args[0].(string); ok {
		return float64(len(s)), nil
	}
	rv := reflect.ValueOf(args[0])
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return float64(rv.Len()), nil
	}
	return nil, fmt.Errorf("value of type %T has no length", args[0])
}

// fnContains checks membership: substring for strings, element for arrays,
// key for maps. A nil container contains nothing.
func fnContains(args []interface{}) (interface{}, error) {
	if err := arity("contains", args, 2); err != nil {
		return nil, err
	}
	container, item := args[0], args[1]
	switch t := container.(type) {
	case nil:
		return false, nil
	case string:
		s, ok := item.(string)
		if !ok {
			return false, nil
		}
		return strings.Contains(t, s), nil
	}
	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if looseEqual(rv.Index(i).Interface(), item) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		key, ok := item.(string)
		if !ok {
			return false, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return false, nil
		}
		return rv.MapIndex(reflect.ValueOf(key)).IsValid(), nil
	}
	return nil, fmt.Errorf("value of type %T is not a container", container)
}

func fnContainsString(args []interface{}) (interface{}, error) {
	s, sub, err := twoStrings("contains_string", args)
	if err != nil {
		return nil, err
	}
	return strings.Contains(s, sub), nil
}

func fnStartsWith(args []interface{}) (interface{}, error) {
	s, prefix, err := twoStrings("starts_with", args)
	if err != nil {
		return nil, err
	}
	return strings.HasPrefix(s, prefix), nil
}

func fnEndsWith(args []interface{}) (interface{}, error) {
	s, suffix, err := twoStrings("ends_with", args)
	if err != nil {
		return nil, err
	}
	return strings.HasSuffix(s, suffix), nil
}

func fnMatchesRegex(args []interface{}) (interface{}, error) {
	s, pattern, err := twoStrings("matches_regex", args)
	if err != nil {
		return nil, err
	}
	matched, err := regexp.MatchString(pattern, s)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return matched, nil
}

// fnAnyMatch applies a named builtin to each element: any_match(arr, "fn",
// extra...) is true when fn(elem, extra...) is truthy for some element.
func fnAnyMatch(args []interface{}) (interface{}, error) {
	return matchElements("any_match", args, false)
}

// fnAllMatch is the universal counterpart of any_match. It is vacuously true
// for an empty array.
func fnAllMatch(args []interface{}) (interface{}, error) {
	return matchElements("all_match", args, true)
}

func matchElements(name string, args []interface{}, wantAll bool) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%s needs an array and a function name", name)
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	fnName, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("%s: second argument must be a function name", name)
	}
	fn, ok := builtins[fnName]
	if !ok {
		return nil, fmt.Errorf("%s: unknown function %q", name, fnName)
	}
	extra := args[2:]
	for _, item := range items {
		out, err := fn(append([]interface{}{item}, extra...))
		if err != nil {
			return nil, err
		}
		if truthy(out) != wantAll {
			return !wantAll, nil
		}
	}
	return wantAll, nil
}

func typePredicate(pred func(interface{}) bool) builtin {
	return func(args []interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, errors.New("type check takes one argument")
		}
		return pred(args[0]), nil
	}
}

func isArray(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func isObject(v interface{}) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Map
}

func fnIsGreater(args []interface{}) (interface{}, error) {
	a, b, err := twoNumbers("is_greater", args)
	if err != nil {
		return nil, err
	}
	return a > b, nil
}

func fnIsLess(args []interface{}) (interface{}, error) {
	a, b, err := twoNumbers("is_less", args)
	if err != nil {
		return nil, err
	}
	return a < b, nil
}

func fnSum(args []interface{}) (interface{}, error) {
	if err := arity("sum", args, 1); err != nil {
		return nil, err
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, fmt.Errorf("sum: %w", err)
	}
	total := 0.0
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("sum: element of type %T is not a number", item)
		}
		total += f
	}
	return total, nil
}

func fnAverage(args []interface{}) (interface{}, error) {
	if err := arity("average", args, 1); err != nil {
		return nil, err
	}
	items, err := toSlice(args[0])
	if err != nil {
		return nil, fmt.Errorf("average: %w", err)
	}
	if len(items) == 0 {
		return float64(0), nil
	}
	total, err := fnSum(args)
	if err != nil {
		return nil, err
	}
	return total.(float64) / float64(len(items)), nil
}

func arity(name string, args []interface{}, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s takes %d argument(s), got %d", name, want, len(args))
	}
	return nil
}

func twoStrings(name string, args []interface{}) (string, string, error) {
	if err := arity(name, args, 2); err != nil {
		return "", "", err
	}
	a, aok := args[0].(string)
	b, bok := args[1].(string)
	if !aok || !bok {
		return "", "", fmt.Errorf("%s takes two strings, got %T and %T", name, args[0], args[1])
	}
	return a, b, nil
}

func twoNumbers(name string, args []interface{}) (float64, float64, error) {
	if err := arity(name, args, 2); err != nil {
		return 0, 0, err
	}
	a, aok := toFloat(args[0])
	b, bok := toFloat(args[1])
	if !aok || !bok {
		return 0, 0, fmt.Errorf("%s takes two numbers, got %T and %T", name, args[0], args[1])
	}
	return a, b, nil
}

func toSlice(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if items, ok := v.([]interface{}); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("value of type %T is not an array", v)
}
