// Package state provides the typed, scoped, permissioned variable store
// that workflow executions read and mutate.
//
// A Store holds named Variables. Every variable carries a value kind
// recorded at creation, a scope, a permission mode, optional TTL, and an
// optional validator. Mutations run through a fixed pipeline (existence,
// permission, hooks, validation, commit, change log) and are atomic: a
// rejected write leaves the variable untouched.
package state

import (
	"fmt"
	"reflect"
	"strconv"
)

// Kind tags the dynamic type of a variable value.
type Kind string

const (
	KindNull   Kind = "null"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindString Kind = "string"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// KindOf reports the Kind of an arbitrary Go value.
//
// Integer types map to KindInt, floating types to KindFloat. Slices and
// arrays of any element type are KindList; maps with string keys are
// KindMap. Anything unrecognized (structs, channels, funcs) reports
// KindNull so callers can reject it explicitly.
func KindOf(v interface{}) Kind {
	if v == nil {
		return KindNull
	}
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case bool:
		return KindBool
	case string:
		return KindString
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return KindMap
		}
	}
	return KindNull
}

// Coerce converts v to the target kind where a lossless or conventional
// conversion exists. Supported conversions:
//
//	int <-> float
//	string -> int, float, bool (parsed)
//	int, float, bool -> string (formatted)
//
// Returns an error when no conversion applies.
func Coerce(v interface{}, target Kind) (interface{}, error) {
	from := KindOf(v)
	if from == target {
		return v, nil
	}

	switch target {
	case KindInt:
		switch from {
		case KindFloat:
			return int64(asFloat(v)), nil
		case KindString:
			n, err := strconv.ParseInt(v.(string), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to int", v)
			}
			return n, nil
		}
	case KindFloat:
		switch from {
		case KindInt:
			return asFloat(v), nil
		case KindString:
			f, err := strconv.ParseFloat(v.(string), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to float", v)
			}
			return f, nil
		}
	case KindBool:
		if from == KindString {
			b, err := strconv.ParseBool(v.(string))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to bool", v)
			}
			return b, nil
		}
	case KindString:
		switch from {
		case KindInt:
			return strconv.FormatInt(asInt(v), 10), nil
		case KindFloat:
			return strconv.FormatFloat(asFloat(v), 'g', -1, 64), nil
		case KindBool:
			return strconv.FormatBool(v.(bool)), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %s to %s", from, target)
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return float64(asInt(v))
	}
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	}
	return 0
}
