package broadcast

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter is a compiled CEL predicate over a measurement payload. The
// expression sees the payload fields as variables:
//
//	id, date, time, imageUrl (string), weight (double), event_id (int),
//	json (the decoded payload)
//
// e.g. `id == "PNG-001" && weight < 4.0`.
type Filter struct {
	expr string
	prog cel.Program
}

// NewFilter compiles expr. An empty expression yields a nil filter, which
// sessions treat as match-all.
func NewFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("weight", cel.DoubleType),
		cel.Variable("date", cel.StringType),
		cel.Variable("time", cel.StringType),
		cel.Variable("imageUrl", cel.StringType),
		cel.Variable("event_id", cel.IntType),
		cel.Variable("json", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("filter: %w", iss.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter: expression must evaluate to bool, got %s", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	return &Filter{expr: expr, prog: prog}, nil
}

func (f *Filter) String() string { return f.expr }

// Match evaluates the filter against an event. Payloads that do not decode,
// and evaluation errors, do not match.
func (f *Filter) Match(ev Event) bool {
	if f == nil {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(ev.Data, &doc); err != nil {
		return false
	}
	str := func(k string) string {
		s, _ := doc[k].(string)
		return s
	}
	weight, _ := doc["weight"].(float64)
	out, _, err := f.prog.Eval(map[string]any{
		"id":       str("id"),
		"weight":   weight,
		"date":     str("date"),
		"time":     str("time"),
		"imageUrl": str("imageUrl"),
		"event_id": int64(ev.ID),
		"json":     doc,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
