package expr

import "github.com/shopspring/decimal"

// FunctionOutput is the result of one executed Function task: a scalar
// score, a vector of scores, or an error payload (spec §3.5's
// `TaskOutputOwned::Function`, grounded on params.rs's `FunctionOutput`).
type FunctionOutput struct {
	Scalar *decimal.Decimal  `json:"scalar,omitempty"`
	Vector []decimal.Decimal `json:"vector,omitempty"`
	Err    any               `json:"err,omitempty"`
}

// IntoErr rewraps a successful output as an error payload, used when a
// nested function's own output fails its validation pass.
func (f FunctionOutput) IntoErr() FunctionOutput {
	switch {
	case f.Scalar != nil:
		return FunctionOutput{Err: f.Scalar}
	case f.Vector != nil:
		return FunctionOutput{Err: f.Vector}
	default:
		return f
	}
}

// VectorCompletionOutput is the result of one executed vector-completion
// task: the per-LLM votes plus the reduced scores and weights (spec §3.5,
// §4.8's VectorCompletionOutput{votes, scores, weights}).
type VectorCompletionOutput struct {
	Votes   []VoteSummary     `json:"votes"`
	Scores  []decimal.Decimal `json:"scores"`
	Weights []decimal.Decimal `json:"weights"`
}

// VoteSummary is the subset of ensemble.Vote exposed to expressions — kept
// dependency-free of package ensemble so expr has no cycle back into it.
type VoteSummary struct {
	Model  string            `json:"model"`
	Vote   []decimal.Decimal `json:"vote"`
	Weight decimal.Decimal   `json:"weight"`
	Source string            `json:"source"`
}

// DefaultVectorCompletionOutput yields the uniform-distribution default used
// when an ensemble casts no usable votes at all (spec §7.4's partial-failure
// semantics: "losing every vote yields the uniform distribution").
func DefaultVectorCompletionOutput(responsesLen int) VectorCompletionOutput {
	weights := make([]decimal.Decimal, responsesLen)
	scores := make([]decimal.Decimal, responsesLen)
	if responsesLen > 0 {
		share := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(responsesLen)))
		for i := range scores {
			scores[i] = share
		}
	}
	return VectorCompletionOutput{Scores: scores, Weights: weights}
}

// TaskOutput is the union of what a compiled task binds as `output` when
// evaluating the outer Function output expression (spec §3.5's
// `TaskOutputOwned`): a single or mapped Function result, or a single or
// mapped vector-completion result.
type TaskOutput struct {
	Function             *FunctionOutput
	MapFunction          []FunctionOutput
	VectorCompletion     *VectorCompletionOutput
	MapVectorCompletion  []VectorCompletionOutput
}

// Value returns the Go value (any) form used as the `output` binding for
// Params, mirroring the untagged serde representation of TaskOutputOwned.
func (t TaskOutput) Value() any {
	switch {
	case t.Function != nil:
		return t.Function
	case t.MapFunction != nil:
		return t.MapFunction
	case t.VectorCompletion != nil:
		return t.VectorCompletion
	case t.MapVectorCompletion != nil:
		return t.MapVectorCompletion
	default:
		return nil
	}
}
