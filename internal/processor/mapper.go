package processor

import (
	"fmt"
	"strings"
)

// Mapper builds the sink object from a matching source record.
// The position field is added by the Pipeline afterwards.
type Mapper interface {
	Map(event Event) (map[string]any, error)
}

// MapperFunc adapts a function to the Mapper interface
type MapperFunc func(event Event) (map[string]any, error)

// Map calls f(event)
func (f MapperFunc) Map(event Event) (map[string]any, error) {
	return f(event)
}

// Identity copies every field of the source object
func Identity() Mapper {
	return MapperFunc(func(event Event) (map[string]any, error) {
		out := make(map[string]any, len(event.Fields)+1)
		for k, v := range event.Fields {
			out[k] = v
		}
		return out, nil
	})
}

// Select keeps only the given fields. Dotted fields are looked up in nested
// objects and written under the last path segment. A missing field makes the
// record a transform skip.
func Select(fields ...string) Mapper {
	paths := make([][]string, len(fields))
	for i, f := range fields {
		paths[i] = strings.Split(f, ".")
	}

	return MapperFunc(func(event Event) (map[string]any, error) {
		out := make(map[string]any, len(paths)+1)
		for i, path := range paths {
			v, ok := lookup(event.Fields, path)
			if !ok {
				return nil, fmt.Errorf("missing field %q", fields[i])
			}
			out[path[len(path)-1]] = v
		}
		return out, nil
	})
}
