package expr

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// StarlarkDialect is the default expression dialect (spec §9): a bare JSON
// string is evaluated as a single Starlark expression with `input`,
// `output`, and `map` bound as globals, grounded on go.starlark.net's
// expression-evaluation mode.
type StarlarkDialect struct{}

func (StarlarkDialect) Compile(source string, params Params) (any, error) {
	thread := &starlark.Thread{Name: "expr"}

	globals := make(starlark.StringDict, 3)
	for k, v := range params.asData() {
		sv, err := goToStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("expr: binding %q: %w", k, err)
		}
		globals[k] = sv
	}

	expr, err := syntax.ParseExpr("expr.star", source, 0)
	if err != nil {
		return nil, fmt.Errorf("expr: starlark parse: %w", err)
	}
	v, err := starlark.EvalExpr(thread, expr, globals)
	if err != nil {
		return nil, fmt.Errorf("expr: starlark eval: %w", err)
	}
	return starlarkToGo(v)
}

func goToStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case float64:
		return starlark.Float(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := goToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		d := starlark.NewDict(len(x))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := goToStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("expr: unsupported Go value of type %T for starlark binding", v)
	}
}

func starlarkToGo(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return float64(i), nil
		}
		f, _ := x.Float().Float64()
		return f, nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		out := make([]any, x.Len())
		for i := 0; i < x.Len(); i++ {
			ev, err := starlarkToGo(x.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case starlark.Tuple:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := starlarkToGo(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			k, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("expr: starlark dict keys must be strings")
			}
			ev, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expr: unsupported starlark value of type %T", v)
	}
}
