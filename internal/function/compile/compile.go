// Package compile implements FunctionCompiler (C9): compiling a Function's
// task expressions against its input, handling `skip`, `map`, and
// `input_maps` (spec §4.9). Grounded on the source's task.rs and
// expression/params.rs.
package compile

import (
	"encoding/json"
	"fmt"

	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/function/expr"
	"ensemblegateway/internal/upstream/prompt"
	"ensemblegateway/internal/upstream/types"
)

// Function is a fetched, unexecuted Function definition (spec §3.5, §4.9).
// Kind distinguishes a scalar function (one score in [0,1]) from a vector
// function (a vector over a caller-supplied response count); only vector
// functions carry OutputLength/InputSplit/InputMerge.
type Function struct {
	Kind        string `json:"kind"` // "scalar" | "vector"
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	InputMaps   InputMaps       `json:"input_maps,omitempty"`
	Tasks       []TaskExpression `json:"tasks"`
	Output      expr.Expression  `json:"output"`

	// Vector-function-only fields (spec §4.9's map/split/merge for fan-out
	// over a variable number of responses).
	OutputLength expr.Expression `json:"output_length,omitempty"`
	InputSplit   expr.Expression `json:"input_split,omitempty"`
	InputMerge   expr.Expression `json:"input_merge,omitempty"`
}

const (
	KindScalar = "scalar"
	KindVector = "vector"
)

// TaskExpression is one pre-compilation task definition (spec §3.5).
type TaskExpression struct {
	Type string `json:"type"`

	// scalar.function / vector.function fields.
	Owner      string         `json:"owner,omitempty"`
	Repository string         `json:"repository,omitempty"`
	Commit     string         `json:"commit,omitempty"`
	Input      expr.Expression `json:"input,omitempty"`

	// vector.completion fields.
	Messages  expr.Expression `json:"messages,omitempty"`
	Tools     expr.Expression `json:"tools,omitempty"`
	Responses expr.Expression `json:"responses,omitempty"`

	Skip *expr.Expression `json:"skip,omitempty"`
	Map  *int             `json:"map,omitempty"`
}

const (
	TypeScalarFunction   = "scalar.function"
	TypeVectorFunction   = "vector.function"
	TypeVectorCompletion = "vector.completion"
)

// Task is one compiled task instance, ready for execution.
type Task struct {
	Type string

	Owner      string
	Repository string
	Commit     string
	Input      any

	Messages  []ensemble.Message
	Tools     []types.Tool
	Responses []prompt.Candidate

	MapElement any // the bound `map` value, nil when this task was not mapped
}

// CompiledTask is the result of compiling a TaskExpression: empty when
// skipped, one Task when unmapped, N when `map` expanded it (spec §3.5's
// `CompiledTask::One | Many`).
type CompiledTask struct {
	Skipped bool
	Tasks   []Task
}

// InputMaps is either a single expression yielding one sub-array, or a list
// of expressions each yielding its own sub-array (spec §4.9's
// `InputMaps::One | Many`).
type InputMaps struct {
	one  *expr.Expression
	many []expr.Expression
}

func (m *InputMaps) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		m.many = make([]expr.Expression, len(arr))
		for i, e := range arr {
			m.many[i] = expr.Expression(e)
		}
		return nil
	}
	one := expr.Expression(data)
	m.one = &one
	return nil
}

// CompileInputMaps evaluates the function's input_maps exactly once per
// request, before any task compilation (spec §4.9).
func CompileInputMaps(ims InputMaps, params expr.Params) ([][]any, error) {
	if ims.one != nil {
		arr, err := evalArray(*ims.one, params)
		if err != nil {
			return nil, err
		}
		return [][]any{arr}, nil
	}
	out := make([][]any, len(ims.many))
	for i, e := range ims.many {
		arr, err := evalArray(e, params)
		if err != nil {
			return nil, err
		}
		out[i] = arr
	}
	return out, nil
}

func evalArray(e expr.Expression, params expr.Params) ([]any, error) {
	v, err := e.Evaluate(params)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("compile: input_maps expression must evaluate to an array")
	}
	return arr, nil
}

// Compile runs the full per-task compilation order (spec §4.9):
//  1. skip check
//  2. map expansion against inputMaps
//  3. input/messages/tools/responses compilation
func Compile(te TaskExpression, input any, inputMaps [][]any) (CompiledTask, error) {
	baseParams := expr.Params{Input: input}

	if te.Skip != nil {
		skip, err := (*te.Skip).Evaluate(baseParams)
		if err != nil {
			return CompiledTask{}, err
		}
		if truthy(skip) {
			return CompiledTask{Skipped: true}, nil
		}
	}

	if te.Map != nil {
		idx := *te.Map
		if idx < 0 || idx >= len(inputMaps) {
			return CompiledTask{}, fmt.Errorf("compile: map index %d out of range", idx)
		}
		group := inputMaps[idx]
		tasks := make([]Task, 0, len(group))
		for _, elem := range group {
			params := expr.Params{Input: input, Map: elem}
			t, err := compileOne(te, params)
			if err != nil {
				return CompiledTask{}, err
			}
			t.MapElement = elem
			tasks = append(tasks, t)
		}
		return CompiledTask{Tasks: tasks}, nil
	}

	t, err := compileOne(te, baseParams)
	if err != nil {
		return CompiledTask{}, err
	}
	return CompiledTask{Tasks: []Task{t}}, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}

func compileOne(te TaskExpression, params expr.Params) (Task, error) {
	switch te.Type {
	case TypeScalarFunction, TypeVectorFunction:
		input, err := expr.CompileOne[any](te.Input, params)
		if err != nil {
			return Task{}, err
		}
		return Task{
			Type:       te.Type,
			Owner:      te.Owner,
			Repository: te.Repository,
			Commit:     te.Commit,
			Input:      input,
		}, nil
	case TypeVectorCompletion:
		messages, err := compileMessages(te.Messages, params)
		if err != nil {
			return Task{}, err
		}
		tools, err := compileTools(te.Tools, params)
		if err != nil {
			return Task{}, err
		}
		responses, err := compileResponses(te.Responses, params)
		if err != nil {
			return Task{}, err
		}
		return Task{Type: te.Type, Messages: messages, Tools: tools, Responses: responses}, nil
	default:
		return Task{}, fmt.Errorf("compile: unknown task type %q", te.Type)
	}
}

func compileMessages(raw expr.Expression, params expr.Params) ([]ensemble.Message, error) {
	items, err := expr.CompileOne[[]json.RawMessage](raw, params)
	if err != nil {
		return nil, err
	}
	out := make([]ensemble.Message, 0, len(items))
	for _, item := range items {
		oom, err := expr.EvaluateOneOrMany[ensemble.Message](expr.Expression(item), params)
		if err != nil {
			return nil, err
		}
		if oom.IsOne {
			out = append(out, *oom.One)
		} else {
			out = append(out, oom.Many...)
		}
	}
	return out, nil
}

func compileTools(raw expr.Expression, params expr.Params) ([]types.Tool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	v, err := raw.Evaluate(params)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	items, err := expr.CompileOne[[]json.RawMessage](raw, params)
	if err != nil {
		return nil, err
	}
	out := make([]types.Tool, 0, len(items))
	for _, item := range items {
		oom, err := expr.EvaluateOneOrMany[types.Tool](expr.Expression(item), params)
		if err != nil {
			return nil, err
		}
		if oom.IsOne {
			out = append(out, *oom.One)
		} else {
			out = append(out, oom.Many...)
		}
	}
	return out, nil
}

// richContent decodes either a bare string (a single text part) or an
// array of content parts, mirroring the rich-content shorthand spec §3.1
// uses for message/response content.
type richContent []ensemble.ContentPart

func (r *richContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = richContent{{Type: "text", Text: s}}
		return nil
	}
	var parts []ensemble.ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*r = parts
	return nil
}

// CompiledFunction is a Function with its input_maps and every task
// compiled against a concrete input value, ready for execution.
type CompiledFunction struct {
	Function Function
	Input    any
	Tasks    []CompiledTask
}

// CompileFunction runs the full per-request compilation order (spec §4.9):
// input_maps once, then every task in the function's task list.
func CompileFunction(fn Function, input any) (CompiledFunction, error) {
	inputMaps, err := CompileInputMaps(fn.InputMaps, expr.Params{Input: input})
	if err != nil {
		return CompiledFunction{}, fmt.Errorf("compile: input_maps: %w", err)
	}
	tasks := make([]CompiledTask, len(fn.Tasks))
	for i, te := range fn.Tasks {
		ct, err := Compile(te, input, inputMaps)
		if err != nil {
			return CompiledFunction{}, fmt.Errorf("compile: task %d: %w", i, err)
		}
		tasks[i] = ct
	}
	return CompiledFunction{Function: fn, Input: input, Tasks: tasks}, nil
}

func compileResponses(raw expr.Expression, params expr.Params) ([]prompt.Candidate, error) {
	items, err := expr.CompileOne[[]json.RawMessage](raw, params)
	if err != nil {
		return nil, err
	}
	out := make([]prompt.Candidate, 0, len(items))
	for _, item := range items {
		oom, err := expr.EvaluateOneOrMany[richContent](expr.Expression(item), params)
		if err != nil {
			return nil, err
		}
		if oom.IsOne {
			out = append(out, prompt.Candidate{Parts: []ensemble.ContentPart(*oom.One)})
		} else {
			for _, rc := range oom.Many {
				out = append(out, prompt.Candidate{Parts: []ensemble.ContentPart(rc)})
			}
		}
	}
	return out, nil
}
