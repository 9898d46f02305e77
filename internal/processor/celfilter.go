package processor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// celPredicate wraps a compiled CEL program evaluated against each record.
//
// Variables available to expressions:
//
//	json   dyn     the decoded payload (numbers as doubles)
//	offset int     the source offset of the record
//	size   int     the payload size in bytes
//	text   string  the raw payload
type celPredicate struct {
	expr string
	prog cel.Program
}

// CEL compiles expr into a Predicate. A blank expression matches every record.
//
//	processor.CEL(`json.type == "match" && double(json.size) > 0.5`)
func CEL(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return All(), nil
	}

	env, err := cel.NewEnv(
		cel.Variable("json", cel.DynType),
		cel.Variable("offset", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		return nil, err
	}

	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", iss.Err())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	return &celPredicate{expr: expr, prog: prog}, nil
}

// Match evaluates the expression. Evaluation errors (such as a missing key)
// are returned so the caller can count them as filter skips.
func (p *celPredicate) Match(event Event) (bool, error) {
	var doc any
	if err := json.Unmarshal(event.Raw, &doc); err != nil {
		return false, err
	}

	out, _, err := p.prog.Eval(map[string]any{
		"json":   doc,
		"offset": event.Offset,
		"size":   int64(len(event.Raw)),
		"text":   string(event.Raw),
	})
	if err != nil {
		return false, fmt.Errorf("filter %q: %w", p.expr, err)
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", p.expr, out.Value())
	}
	return b, nil
}
