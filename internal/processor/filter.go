package processor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Predicate decides whether a decoded record should be emitted
type Predicate interface {
	Match(event Event) (bool, error)
}

// PredicateFunc adapts a function to the Predicate interface
type PredicateFunc func(event Event) (bool, error)

// Match calls f(event)
func (f PredicateFunc) Match(event Event) (bool, error) {
	return f(event)
}

// All matches every record
func All() Predicate {
	return PredicateFunc(func(Event) (bool, error) { return true, nil })
}

// FieldEquals matches records whose field (dot separated for nested objects)
// renders to value. Strings compare verbatim, numbers by their JSON text and
// booleans as "true"/"false".
func FieldEquals(field, value string) Predicate {
	path := strings.Split(field, ".")
	return PredicateFunc(func(event Event) (bool, error) {
		v, ok := lookup(event.Fields, path)
		if !ok {
			return false, nil
		}
		s, ok := scalarString(v)
		return ok && s == value, nil
	})
}

// lookup walks a dotted path through nested objects
func lookup(fields map[string]any, path []string) (any, bool) {
	var cur any = fields
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		return "", false
	}
}
