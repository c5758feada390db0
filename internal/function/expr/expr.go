// Package expr implements the Function expression language (spec §4.9,
// §9 "Dynamic expression dialects"): a tagged-literal JMESPath dialect and a
// default Starlark dialect, both evaluated against a Params binding.
// Grounded on the source's expression/expression.rs and expression/params.rs.
package expr

import (
	"encoding/json"
	"fmt"
)

// Params is the context expressions evaluate against: the function's input,
// the current map element (when the task is mapped), and prior task output
// (only populated for the outer `output` expression).
type Params struct {
	Input  any `json:"input"`
	Output any `json:"output,omitempty"`
	Map    any `json:"map,omitempty"`
}

func (p Params) asData() map[string]any {
	return map[string]any{"input": p.Input, "output": p.Output, "map": p.Map}
}

// Dialect compiles one expression source string against params.
type Dialect interface {
	Compile(source string, params Params) (any, error)
}

// Expression is a JSON value that is either a literal (passed through
// unchanged) or a tagged `{"$jmespath": "..."}` / bare-string expression
// (evaluated by the selected dialect). This is the Go-native rendering of
// the spec's "values may be literals or tagged objects" rule (§4.9):
//   - `{"$jmespath": "<source>"}`     -> JMESPath dialect
//   - a bare JSON string              -> Starlark dialect, string is source
//   - any other JSON literal          -> returned as-is, no dialect invoked
//
// This split is an explicit Open Question resolution (DESIGN.md): the
// source's `Expression` type only ever wraps JMESPath, with Starlark chosen
// by "everything else" at a higher layer the retrieved sources did not
// include verbatim.
type Expression json.RawMessage

// tagged is the shape `{"$jmespath": "..."}` decodes into when present.
type tagged struct {
	JMESPath *string `json:"$jmespath"`
}

// Evaluate compiles e against params, selecting JMESPath or Starlark per the
// tagging rule, or returning a literal value unevaluated.
func (e Expression) Evaluate(params Params) (any, error) {
	raw := json.RawMessage(e)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	// Reject tagged-looking objects with extra keys or a non-string value.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if _, ok := probe["$jmespath"]; ok {
			var t tagged
			if len(probe) == 1 && json.Unmarshal(raw, &t) == nil && t.JMESPath != nil {
				return JMESPathDialect{}.Compile(*t.JMESPath, params)
			}
			return nil, fmt.Errorf("expr: $jmespath value must be a string and the object's only key")
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StarlarkDialect{}.Compile(s, params)
	}

	var literal any
	if err := json.Unmarshal(raw, &literal); err != nil {
		return nil, fmt.Errorf("expr: invalid expression JSON: %w", err)
	}
	return literal, nil
}

// OneOrMany is the result of an expression that may yield a single value or
// an array of values, with nulls filtered and a lone null collapsing to
// empty-many (spec §4.9's `OneOrMany<T>` semantics).
type OneOrMany[T any] struct {
	One   *T
	Many  []T
	IsOne bool
}

// EvaluateOneOrMany evaluates e and classifies the result per OneOrMany's
// rules, decoding each element into T via JSON round-trip.
func EvaluateOneOrMany[T any](e Expression, params Params) (OneOrMany[T], error) {
	v, err := e.Evaluate(params)
	if err != nil {
		return OneOrMany[T]{}, err
	}
	return classify[T](v)
}

func classify[T any](v any) (OneOrMany[T], error) {
	if v == nil {
		return OneOrMany[T]{Many: []T{}}, nil
	}
	if arr, ok := v.([]any); ok {
		out := make([]T, 0, len(arr))
		for _, item := range arr {
			if item == nil {
				continue
			}
			dec, err := decodeAs[T](item)
			if err != nil {
				return OneOrMany[T]{}, err
			}
			out = append(out, dec)
		}
		if len(out) == 1 {
			return OneOrMany[T]{One: &out[0], IsOne: true}, nil
		}
		return OneOrMany[T]{Many: out}, nil
	}
	dec, err := decodeAs[T](v)
	if err != nil {
		return OneOrMany[T]{}, err
	}
	return OneOrMany[T]{One: &dec, IsOne: true}, nil
}

func decodeAs[T any](v any) (T, error) {
	var zero T
	b, err := json.Marshal(v)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, err
	}
	return out, nil
}

// CompileOne requires e to evaluate to exactly one value (spec §4.9's
// `compile_one`): a literal, a single-element array, or a scalar expression
// result. Fails if the result is many-valued with length != 1.
func CompileOne[T any](e Expression, params Params) (T, error) {
	var zero T
	oom, err := EvaluateOneOrMany[T](e, params)
	if err != nil {
		return zero, err
	}
	if oom.IsOne {
		return *oom.One, nil
	}
	return zero, fmt.Errorf("expr: expected exactly one value, found %d", len(oom.Many))
}
