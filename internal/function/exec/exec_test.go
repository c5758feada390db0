package exec

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ensemblegateway/internal/function/compile"
	"ensemblegateway/internal/function/expr"
	"ensemblegateway/internal/gwerrors"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestValidateOutputScalarInRange(t *testing.T) {
	got, err := validateOutput(compile.KindScalar, d("0.5"), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.(decimal.Decimal).Equal(d("0.5")) {
		t.Fatalf("got %v, want 0.5", got)
	}
}

func TestValidateOutputScalarOutOfRangeRejected(t *testing.T) {
	_, err := validateOutput(compile.KindScalar, d("1.5"), nil, nil)
	var ge *gwerrors.Error
	if !errors.As(err, &ge) || ge.Message.Kind != gwerrors.KindInvalidScalarOutput {
		t.Fatalf("expected KindInvalidScalarOutput, got %v", err)
	}
}

func TestValidateOutputScalarNegativeRejected(t *testing.T) {
	_, err := validateOutput(compile.KindScalar, d("-0.1"), nil, nil)
	var ge *gwerrors.Error
	if !errors.As(err, &ge) || ge.Message.Kind != gwerrors.KindInvalidScalarOutput {
		t.Fatalf("expected KindInvalidScalarOutput, got %v", err)
	}
}

func TestValidateOutputVectorSumsToOne(t *testing.T) {
	vec := []any{d("0.25"), d("0.75")}
	got, err := validateOutput(compile.KindVector, vec, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, ok := got.([]decimal.Decimal)
	if !ok || len(out) != 2 {
		t.Fatalf("expected a 2-length decimal vector, got %#v", got)
	}
}

func TestValidateOutputVectorWrongSumRejected(t *testing.T) {
	vec := []any{d("0.1"), d("0.1")}
	_, err := validateOutput(compile.KindVector, vec, nil, nil)
	var ge *gwerrors.Error
	if !errors.As(err, &ge) || ge.Message.Kind != gwerrors.KindInvalidVectorOutput {
		t.Fatalf("expected KindInvalidVectorOutput, got %v", err)
	}
}

func TestValidateOutputVectorWrongLengthRejected(t *testing.T) {
	vec := []any{d("0.5"), d("0.5")}
	outputLength := expr.Expression(`3`)
	_, err := validateOutput(compile.KindVector, vec, outputLength, map[string]any{})
	var ge *gwerrors.Error
	if !errors.As(err, &ge) || ge.Message.Kind != gwerrors.KindInvalidVectorOutput {
		t.Fatalf("expected KindInvalidVectorOutput for a length mismatch, got %v", err)
	}
}

func TestDecodeScalarAcceptsFloatAndString(t *testing.T) {
	if got, err := decodeScalar(0.5); err != nil || !got.Equal(d("0.5")) {
		t.Fatalf("decodeScalar(float64) = %v, %v", got, err)
	}
	if got, err := decodeScalar("0.5"); err != nil || !got.Equal(d("0.5")) {
		t.Fatalf("decodeScalar(string) = %v, %v", got, err)
	}
	if _, err := decodeScalar(struct{}{}); err == nil {
		t.Fatal("expected an error decoding a non-numeric scalar")
	}
}

func TestDecodeVectorAcceptsMixedNumericTypes(t *testing.T) {
	vec, err := decodeVector([]any{0.25, "0.75"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || !vec[0].Equal(d("0.25")) || !vec[1].Equal(d("0.75")) {
		t.Fatalf("unexpected decode: %v", vec)
	}
}

func TestDecodeVectorRejectsNonArray(t *testing.T) {
	if _, err := decodeVector("not an array"); err == nil {
		t.Fatal("expected an error for a non-array vector output")
	}
}

func TestWrapSingleScalarFunction(t *testing.T) {
	scalar := d("0.5")
	out, err := wrapSingle(compile.TypeScalarFunction, expr.FunctionOutput{Scalar: &scalar})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Function == nil || out.Function.Scalar == nil || !out.Function.Scalar.Equal(scalar) {
		t.Fatalf("unexpected wrapped output: %#v", out)
	}
}

func TestWrapSingleVectorCompletion(t *testing.T) {
	vco := expr.VectorCompletionOutput{Scores: []decimal.Decimal{d("1")}}
	out, err := wrapSingle(compile.TypeVectorCompletion, vco)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.VectorCompletion == nil || len(out.VectorCompletion.Scores) != 1 {
		t.Fatalf("unexpected wrapped output: %#v", out)
	}
}

func TestWrapSingleUnknownTypeErrors(t *testing.T) {
	if _, err := wrapSingle("bogus.type", nil); err == nil {
		t.Fatal("expected an error for an unknown task type")
	}
}

func TestWrapMappedFunctionCollectsErrors(t *testing.T) {
	scalar := d("0.5")
	results := []taskResult{
		{out: expr.FunctionOutput{Scalar: &scalar}},
		{err: errors.New("boom")},
	}
	out, err := wrapMapped(compile.TypeScalarFunction, results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.MapFunction) != 2 {
		t.Fatalf("expected 2 mapped outputs, got %d", len(out.MapFunction))
	}
	if out.MapFunction[0].Scalar == nil || !out.MapFunction[0].Scalar.Equal(scalar) {
		t.Fatalf("expected the first entry to carry the scalar, got %#v", out.MapFunction[0])
	}
	if out.MapFunction[1].Err == nil {
		t.Fatalf("expected the second entry to carry the error, got %#v", out.MapFunction[1])
	}
}

func TestWrapMappedVectorCompletionFailureYieldsZeroValue(t *testing.T) {
	results := []taskResult{
		{out: expr.VectorCompletionOutput{Scores: []decimal.Decimal{d("1")}}},
		{err: errors.New("boom")},
	}
	out, err := wrapMapped(compile.TypeVectorCompletion, results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.MapVectorCompletion) != 2 {
		t.Fatalf("expected 2 mapped outputs, got %d", len(out.MapVectorCompletion))
	}
	if out.MapVectorCompletion[1].Scores != nil {
		t.Fatalf("expected the failed entry to be the zero value, got %#v", out.MapVectorCompletion[1])
	}
}
