// Package exec implements FunctionExecutor (C10): running a compiled
// Function's tasks independently and concurrently, validating their
// outputs, and evaluating the function's own output expression (spec
// §4.10). Grounded on the source's task.rs execution path and
// params.rs's output-validation rules.
package exec

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/function/compile"
	"ensemblegateway/internal/function/expr"
	"ensemblegateway/internal/gwerrors"
	"ensemblegateway/internal/upstream/prompt"
	"ensemblegateway/internal/voting/engine"
)

// Deps are the executor's collaborators. Ensemble and Profile are bound
// once per top-level execution request and shared by every vector.completion
// task in the function's graph — neither the source's TaskExpression nor
// its Params name a per-task ensemble reference, so this gateway resolves
// ensemble/profile selection at the request boundary instead (an Open
// Question decision recorded in DESIGN.md).
type Deps struct {
	Engine      engine.Deps
	Fetcher     contracts.DefinitionFetcher
	Ensemble    ensemble.Ensemble
	Profile     ensemble.Profile
	ReqProvider prompt.RequestProviderFields

	// MaxDepth bounds scalar.function/vector.function recursion into
	// nested function execution (spec §4.10: "bounded only by caller's
	// budget" — this gateway enforces an explicit ceiling rather than
	// relying solely on context cancellation).
	MaxDepth int
}

const defaultMaxDepth = 8

// TaskError is one task's failure, collected into TaskOutputExpressionErrors
// rather than aborting the whole function (spec §4.10, §7.4).
type TaskError struct {
	TaskIndex int    `json:"task_index"`
	Message   string `json:"message"`
}

// Chunk is one unit of streamed progress a caller can observe while a
// function executes (spec §4.10, §6 wire format for function executions):
// a task completing, the final output, or a fatal error.
type Chunk struct {
	TaskIndex  int               `json:"task_index,omitempty"`
	TaskOutput *expr.TaskOutput  `json:"task_output,omitempty"`
	Output     any               `json:"output,omitempty"`
	Errors     []TaskError       `json:"errors,omitempty"`
	Err        error             `json:"-"`
	RetryToken *RetryToken       `json:"retry_token,omitempty"`
	Done       bool              `json:"done,omitempty"`
}

// RetryToken carries enough state to resubmit a function execution re-using
// the votes already cast, rather than re-running every LLM from scratch
// (spec §4.10).
type RetryToken struct {
	Votes map[int][]ensemble.Vote `json:"votes"`
}

// Run compiles and executes fn against input, streaming progress on ch
// (closed by Run when execution finishes; Run itself returns the final
// TaskOutput-derived output and any fatal error).
func Run(ctx context.Context, deps Deps, rng *rand.Rand, fn compile.Function, input any, ch chan<- Chunk) (any, error) {
	defer close(ch)

	if deps.MaxDepth == 0 {
		deps.MaxDepth = defaultMaxDepth
	}

	cf, err := compile.CompileFunction(fn, input)
	if err != nil {
		return nil, gwerrors.New(gwerrors.KindInputSchemaMismatch, err.Error())
	}

	outputs := make([]expr.TaskOutput, len(cf.Tasks))
	var mu sync.Mutex
	var taskErrs []TaskError

	g, gctx := errgroup.WithContext(ctx)
	for i, ct := range cf.Tasks {
		i, ct := i, ct
		if ct.Skipped {
			continue
		}
		g.Go(func() error {
			out, err := runCompiledTask(gctx, deps, rng, ct)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				taskErrs = append(taskErrs, TaskError{TaskIndex: i, Message: err.Error()})
				select {
				case ch <- Chunk{TaskIndex: i, Errors: []TaskError{{TaskIndex: i, Message: err.Error()}}}:
				case <-gctx.Done():
				}
				return nil
			}
			outputs[i] = out
			select {
			case ch <- Chunk{TaskIndex: i, TaskOutput: &out}:
			case <-gctx.Done():
			}
			return nil
		})
	}
	// Task failures are collected, not propagated — a single failing task
	// must not abort independently-schedulable siblings (spec §4.10).
	_ = g.Wait()

	anyValid := false
	for i, ct := range cf.Tasks {
		if ct.Skipped {
			continue
		}
		if outputs[i].Value() != nil {
			anyValid = true
			break
		}
	}
	if !anyValid {
		if len(taskErrs) > 0 {
			return nil, gwerrors.New(gwerrors.KindTaskOutputExpressionErrors, taskErrs)
		}
		return nil, gwerrors.New(gwerrors.KindNoValidTaskOutputs, "no task produced a usable output")
	}

	outputVal := make([]any, len(outputs))
	for i, o := range outputs {
		outputVal[i] = o.Value()
	}
	result, err := fn.Output.Evaluate(expr.Params{Input: input, Output: outputVal})
	if err != nil {
		if len(taskErrs) > 0 {
			return nil, gwerrors.New(gwerrors.KindTaskOutputExpressionErrors, taskErrs)
		}
		return nil, gwerrors.New(gwerrors.KindNoValidTaskOutputs, err.Error())
	}

	validated, err := validateOutput(fn.Kind, result, fn.OutputLength, input)
	if err != nil {
		return nil, err
	}

	ch <- Chunk{Output: validated, Done: true}
	return validated, nil
}

func runCompiledTask(ctx context.Context, deps Deps, rng *rand.Rand, ct compile.CompiledTask) (expr.TaskOutput, error) {
	if len(ct.Tasks) == 0 {
		return expr.TaskOutput{}, nil
	}
	if len(ct.Tasks) == 1 {
		out, err := runTask(ctx, deps, rng, ct.Tasks[0])
		if err != nil {
			return expr.TaskOutput{}, err
		}
		return wrapSingle(ct.Tasks[0].Type, out)
	}

	results := make([]taskResult, len(ct.Tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range ct.Tasks {
		i, t := i, t
		g.Go(func() error {
			out, err := runTask(gctx, deps, rng, t)
			results[i] = taskResult{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return wrapMapped(ct.Tasks[0].Type, results)
}

type taskResult struct {
	out any
	err error
}

func wrapSingle(taskType string, out any) (expr.TaskOutput, error) {
	switch taskType {
	case compile.TypeScalarFunction, compile.TypeVectorFunction:
		fo, _ := out.(expr.FunctionOutput)
		return expr.TaskOutput{Function: &fo}, nil
	case compile.TypeVectorCompletion:
		vo, _ := out.(expr.VectorCompletionOutput)
		return expr.TaskOutput{VectorCompletion: &vo}, nil
	default:
		return expr.TaskOutput{}, fmt.Errorf("exec: unknown task type %q", taskType)
	}
}

func wrapMapped(taskType string, results []taskResult) (expr.TaskOutput, error) {
	switch taskType {
	case compile.TypeScalarFunction, compile.TypeVectorFunction:
		outs := make([]expr.FunctionOutput, len(results))
		for i, r := range results {
			if r.err != nil {
				outs[i] = expr.FunctionOutput{Err: r.err.Error()}
				continue
			}
			fo, _ := r.out.(expr.FunctionOutput)
			outs[i] = fo
		}
		return expr.TaskOutput{MapFunction: outs}, nil
	case compile.TypeVectorCompletion:
		outs := make([]expr.VectorCompletionOutput, len(results))
		for i, r := range results {
			if r.err != nil {
				outs[i] = expr.VectorCompletionOutput{}
				continue
			}
			vo, _ := r.out.(expr.VectorCompletionOutput)
			outs[i] = vo
		}
		return expr.TaskOutput{MapVectorCompletion: outs}, nil
	default:
		return expr.TaskOutput{}, fmt.Errorf("exec: unknown task type %q", taskType)
	}
}

// runTask dispatches one compiled task instance to its concrete execution
// path and returns either an expr.FunctionOutput or expr.VectorCompletionOutput
// (as `any`, unwrapped by the caller).
func runTask(ctx context.Context, deps Deps, rng *rand.Rand, t compile.Task) (any, error) {
	switch t.Type {
	case compile.TypeScalarFunction, compile.TypeVectorFunction:
		return runNestedFunction(ctx, deps, rng, t)
	case compile.TypeVectorCompletion:
		return runVectorCompletion(ctx, deps, rng, t)
	default:
		return nil, fmt.Errorf("exec: unknown task type %q", t.Type)
	}
}

func runVectorCompletion(ctx context.Context, deps Deps, rng *rand.Rand, t compile.Task) (expr.VectorCompletionOutput, error) {
	out, err := engine.Run(ctx, deps.Engine, rng, deps.Ensemble, deps.Profile, t.Messages, t.Responses, deps.ReqProvider)
	if err != nil {
		return expr.VectorCompletionOutput{}, err
	}
	votes := make([]expr.VoteSummary, len(out.Votes))
	for i, v := range out.Votes {
		votes[i] = expr.VoteSummary{Model: v.Model, Vote: v.Vote, Weight: v.Weight, Source: string(v.Source)}
	}
	return expr.VectorCompletionOutput{Votes: votes, Scores: out.Scores, Weights: out.Weights}, nil
}

func runNestedFunction(ctx context.Context, deps Deps, rng *rand.Rand, t compile.Task) (expr.FunctionOutput, error) {
	if deps.MaxDepth <= 0 {
		return expr.FunctionOutput{}, gwerrors.New(gwerrors.KindFunctionNotFound, "max function recursion depth exceeded")
	}
	ref := contracts.FunctionRef{Owner: t.Owner, Repository: t.Repository, Commit: t.Commit}
	def, err := deps.Fetcher.FetchFunction(ctx, ref)
	if err != nil {
		return expr.FunctionOutput{}, gwerrors.New(gwerrors.KindFunctionNotFound, err.Error())
	}
	nested, ok := def.(compile.Function)
	if !ok {
		return expr.FunctionOutput{}, gwerrors.New(gwerrors.KindFunctionNotFound, "fetched definition is not a compiled function")
	}

	childDeps := deps
	childDeps.MaxDepth = deps.MaxDepth - 1
	sink := make(chan Chunk, 8)
	go func() {
		for range sink {
		}
	}()
	result, err := Run(ctx, childDeps, rng, nested, t.Input, sink)
	if err != nil {
		return expr.FunctionOutput{}, err
	}

	switch t.Type {
	case compile.TypeScalarFunction:
		d, ok := result.(decimal.Decimal)
		if !ok {
			return expr.FunctionOutput{}, gwerrors.New(gwerrors.KindInvalidScalarOutput, "nested scalar function returned a non-scalar value")
		}
		return expr.FunctionOutput{Scalar: &d}, nil
	default:
		v, ok := result.([]decimal.Decimal)
		if !ok {
			return expr.FunctionOutput{}, gwerrors.New(gwerrors.KindInvalidVectorOutput, len(v))
		}
		return expr.FunctionOutput{Vector: v}, nil
	}
}

// validateOutput enforces spec §4.10's output-validation rule: a scalar
// function's output must lie in [0,1]; a vector function's output must have
// length output_length(input) and sum to 1 within 1e-6.
func validateOutput(kind string, result any, outputLength expr.Expression, input any) (any, error) {
	switch kind {
	case compile.KindScalar:
		d, err := decodeScalar(result)
		if err != nil {
			return nil, gwerrors.New(gwerrors.KindInvalidScalarOutput, err.Error())
		}
		if d.LessThan(decimal.Zero) || d.GreaterThan(decimal.NewFromInt(1)) {
			return nil, gwerrors.New(gwerrors.KindInvalidScalarOutput, d.String())
		}
		return d, nil
	case compile.KindVector:
		vec, err := decodeVector(result)
		if err != nil {
			return nil, gwerrors.New(gwerrors.KindInvalidVectorOutput, 0)
		}
		wantLen := len(vec)
		if len(outputLength) > 0 {
			lv, err := outputLength.Evaluate(expr.Params{Input: input})
			if err == nil {
				if n, ok := lv.(float64); ok {
					wantLen = int(n)
				}
			}
		}
		if len(vec) != wantLen {
			return nil, gwerrors.New(gwerrors.KindInvalidVectorOutput, len(vec))
		}
		sum := decimal.Zero
		for _, v := range vec {
			sum = sum.Add(v)
		}
		tolerance := decimal.NewFromFloat(1e-6)
		if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(tolerance) {
			return nil, gwerrors.New(gwerrors.KindInvalidVectorOutput, len(vec))
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("exec: unknown function kind %q", kind)
	}
}

func decodeScalar(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(x)
	default:
		return decimal.Decimal{}, fmt.Errorf("scalar output is not numeric (%T)", v)
	}
}

func decodeVector(v any) ([]decimal.Decimal, error) {
	arr, ok := v.([]any)
	if !ok {
		if dv, ok := v.([]decimal.Decimal); ok {
			return dv, nil
		}
		return nil, fmt.Errorf("vector output is not an array (%T)", v)
	}
	out := make([]decimal.Decimal, len(arr))
	for i, e := range arr {
		d, err := decodeScalar(e)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
