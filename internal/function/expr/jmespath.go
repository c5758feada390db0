package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// JMESPathDialect evaluates a tagged `{"$jmespath": "..."}` expression.
// go-jmespath's public Search API has no custom-function registration hook,
// so the extension functions named in spec §9 (add, subtract, multiply,
// divide, mod, json_parse, is_null, if) are handled by a thin call-expanding
// layer in front of it: a leading `name(arg, arg, ...)` call at the top of
// the expression is parsed and its arguments recursively evaluated (as
// either further extension calls or plain JMESPath), and only expressions
// that are not themselves one of these calls fall through to
// jmespath.Search. Grounded on the source's runtime.rs custom-function table.
type JMESPathDialect struct{}

var extensionFuncs = map[string]int{
	"add": 2, "subtract": 2, "multiply": 2, "divide": 2, "mod": 2,
	"json_parse": 1, "is_null": 1, "if": 3,
}

func (JMESPathDialect) Compile(source string, params Params) (any, error) {
	return evalJMESPath(strings.TrimSpace(source), params.asData())
}

func evalJMESPath(source string, data map[string]any) (any, error) {
	name, args, ok := parseTopLevelCall(source)
	if ok {
		if arity, known := extensionFuncs[name]; known {
			if len(args) != arity {
				return nil, fmt.Errorf("expr: %s expects %d arguments, got %d", name, arity, len(args))
			}
			vals := make([]any, len(args))
			for i, a := range args {
				v, err := evalJMESPath(a, data)
				if err != nil {
					return nil, err
				}
				vals[i] = v
			}
			return callExtension(name, vals)
		}
	}
	return jmespath.Search(source, data)
}

// parseTopLevelCall recognizes `name(arg1, arg2, ...)` spanning the entire
// (trimmed) source, splitting arguments on top-level commas (respecting
// nested parens, brackets, and string literals).
func parseTopLevelCall(source string) (name string, args []string, ok bool) {
	open := strings.IndexByte(source, '(')
	if open <= 0 || !strings.HasSuffix(source, ")") {
		return "", nil, false
	}
	candidate := source[:open]
	if !isIdentifier(candidate) {
		return "", nil, false
	}
	if _, known := extensionFuncs[candidate]; !known {
		return "", nil, false
	}
	body := source[open+1 : len(source)-1]
	return candidate, splitTopLevel(body), true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

func splitTopLevel(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var parts []string
	depth := 0
	var inString rune
	start := 0
	for i, r := range s {
		switch {
		case inString != 0:
			if r == inString {
				inString = 0
			}
		case r == '\'' || r == '"':
			inString = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

func callExtension(name string, args []any) (any, error) {
	switch name {
	case "add", "subtract", "multiply", "divide", "mod":
		a, aok := asNumber(args[0])
		b, bok := asNumber(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("expr: %s requires numeric arguments", name)
		}
		switch name {
		case "add":
			return a + b, nil
		case "subtract":
			return a - b, nil
		case "multiply":
			return a * b, nil
		case "divide":
			if b == 0 {
				return nil, nil
			}
			return a / b, nil
		case "mod":
			if b == 0 {
				return nil, nil
			}
			return mod(a, b), nil
		}
	case "json_parse":
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expr: json_parse requires a string argument")
		}
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, nil
		}
		return v, nil
	case "is_null":
		return args[0] == nil, nil
	case "if":
		if truthy(args[0]) {
			return args[1], nil
		}
		return args[2], nil
	}
	return nil, fmt.Errorf("expr: unknown extension function %q", name)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func mod(a, b float64) float64 {
	for a >= b {
		a -= b
	}
	for a < 0 {
		a += b
	}
	return a
}

// truthy mirrors JMESPath's own truthiness: false/null/0/""/empty
// collections are falsy, everything else is truthy.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
