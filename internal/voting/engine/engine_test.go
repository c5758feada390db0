package engine

import (
	"testing"

	"github.com/shopspring/decimal"

	"ensemblegateway/internal/ensemble"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sumScores(scores []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(s)
	}
	return sum
}

// TestReduceRenormalizesNonUnitWeight is scenario 1 (spec §8): a single
// voting slot with profile weight != 1 must still yield scores summing to 1
// (P5) — the reduction divides by the total weight W rather than leaving the
// raw weighted sum in place.
func TestReduceRenormalizesNonUnitWeight(t *testing.T) {
	slots := []ensemble.Slot{{EnsembleIndex: 0, FlatIndex: 0}}
	profile := ensemble.Profile{{Weight: dec("2")}}
	results := []slotResult{
		{modelID: "m0", matched: true, vote: []decimal.Decimal{decimal.Zero, decimal.NewFromInt(1)}},
	}

	out := reduce(results, slots, profile, 2)

	if !sumScores(out.Scores).Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected scores to sum to 1, got %v (sum %v)", out.Scores, sumScores(out.Scores))
	}
	want := []decimal.Decimal{decimal.Zero, decimal.NewFromInt(1)}
	for j, s := range out.Scores {
		if !s.Equal(want[j]) {
			t.Fatalf("scores[%d] = %v, want %v", j, s, want[j])
		}
	}
	// Weights is the unnormalized per-candidate numerator, not a per-slot echo.
	wantWeights := []decimal.Decimal{decimal.Zero, dec("2")}
	for j, w := range out.Weights {
		if !w.Equal(wantWeights[j]) {
			t.Fatalf("weights[%d] = %v, want %v", j, w, wantWeights[j])
		}
	}
	if len(out.Votes) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(out.Votes))
	}
}

// TestReduceMultipleSlotsWeightsDontSumToOne covers §3.4's "weights need not
// sum to 1; they are renormalized during reduction" with more than one slot.
func TestReduceMultipleSlotsWeightsDontSumToOne(t *testing.T) {
	slots := []ensemble.Slot{
		{EnsembleIndex: 0, FlatIndex: 0},
		{EnsembleIndex: 1, FlatIndex: 1},
	}
	profile := ensemble.Profile{{Weight: dec("0.3")}, {Weight: dec("0.9")}}
	results := []slotResult{
		{modelID: "m0", matched: true, vote: []decimal.Decimal{decimal.NewFromInt(1), decimal.Zero}},
		{modelID: "m1", matched: true, vote: []decimal.Decimal{decimal.Zero, decimal.NewFromInt(1)}},
	}

	out := reduce(results, slots, profile, 2)

	if !sumScores(out.Scores).Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected scores to sum to 1, got %v", out.Scores)
	}
	// 0.3/(1.2) and 0.9/1.2
	if !out.Scores[0].Equal(dec("0.3").Div(dec("1.2"))) {
		t.Fatalf("scores[0] = %v, want 0.25", out.Scores[0])
	}
	if !out.Scores[1].Equal(dec("0.9").Div(dec("1.2"))) {
		t.Fatalf("scores[1] = %v, want 0.75", out.Scores[1])
	}
}

// TestReduceExcludesUnmatchedSlots covers step 6: an unmatched slot
// contributes nothing to scores, weights, or the votes list.
func TestReduceExcludesUnmatchedSlots(t *testing.T) {
	slots := []ensemble.Slot{
		{EnsembleIndex: 0, FlatIndex: 0},
		{EnsembleIndex: 1, FlatIndex: 1},
	}
	profile := ensemble.Profile{{Weight: dec("1")}, {Weight: dec("1")}}
	results := []slotResult{
		{modelID: "m0", matched: true, vote: []decimal.Decimal{decimal.NewFromInt(1), decimal.Zero}},
		{modelID: "m1", matched: false},
	}

	out := reduce(results, slots, profile, 2)

	if len(out.Votes) != 1 {
		t.Fatalf("expected the unmatched slot to be excluded, got %d votes", len(out.Votes))
	}
	if out.Votes[0].Model != "m0" {
		t.Fatalf("expected the surviving vote to be from m0, got %q", out.Votes[0].Model)
	}
	if !out.Scores[0].Equal(decimal.NewFromInt(1)) || !out.Scores[1].Equal(decimal.Zero) {
		t.Fatalf("expected scores [1,0], got %v", out.Scores)
	}
}

// TestReduceAllUnmatchedYieldsUniformAndEmptyVotes is scenario 5: every slot
// failing to match falls back to a uniform distribution, and Votes is an
// empty slice (not nil), matching the wire's votes == [].
func TestReduceAllUnmatchedYieldsUniformAndEmptyVotes(t *testing.T) {
	slots := []ensemble.Slot{
		{EnsembleIndex: 0, FlatIndex: 0},
		{EnsembleIndex: 1, FlatIndex: 1},
	}
	profile := ensemble.Profile{{Weight: dec("1")}, {Weight: dec("1")}}
	results := []slotResult{
		{modelID: "m0", matched: false},
		{modelID: "m1", matched: false},
	}

	out := reduce(results, slots, profile, 4)

	if out.Votes == nil || len(out.Votes) != 0 {
		t.Fatalf("expected an empty (non-nil) votes slice, got %#v", out.Votes)
	}
	want := dec("0.25")
	for j, s := range out.Scores {
		if !s.Equal(want) {
			t.Fatalf("scores[%d] = %v, want uniform %v", j, s, want)
		}
	}
}

// TestReduceAppliesInvert exercises the §3.4 anti-correlation transform
// alongside the weighted-sum/renormalization path.
func TestReduceAppliesInvert(t *testing.T) {
	slots := []ensemble.Slot{{EnsembleIndex: 0, FlatIndex: 0}}
	profile := ensemble.Profile{{Weight: dec("1"), Invert: true}}
	results := []slotResult{
		{modelID: "m0", matched: true, vote: []decimal.Decimal{decimal.NewFromInt(1), decimal.Zero, decimal.Zero}},
	}

	out := reduce(results, slots, profile, 3)

	// invert: (1-1)/2=0, (1-0)/2=0.5, (1-0)/2=0.5
	want := []decimal.Decimal{decimal.Zero, dec("0.5"), dec("0.5")}
	for j, s := range out.Scores {
		if !s.Equal(want[j]) {
			t.Fatalf("scores[%d] = %v, want %v", j, s, want[j])
		}
	}
}
