package vote

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"ensemblegateway/internal/upstream/types"
	"ensemblegateway/internal/voting/pfx"
)

func newTreeAndPatterns(t *testing.T, seed int64, n, width int) (*pfx.Tree, []pfx.KeyIndex, string, string) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	tree := pfx.New(rng, n, width)
	keys := tree.KeyIndices(rng)
	withTicks, withoutTicks := pfx.RegexPatterns(keys)
	return tree, keys, withTicks, withoutTicks
}

func TestExtractMatchesBacktickedKey(t *testing.T) {
	tree, keys, withTicks, withoutTicks := newTreeAndPatterns(t, 1, 3, 20)
	want := keys[0]

	choice := types.Choice{Delta: types.Delta{Content: strPtr("The answer is " + want.Key)}}
	votes, ok := Extract(tree, withTicks, withoutTicks, 3, choice)
	if !ok {
		t.Fatal("expected a match")
	}
	if !votes[want.Index].Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected all weight on index %d, got %v", want.Index, votes)
	}
	sum := decimal.Zero
	for _, v := range votes {
		sum = sum.Add(v)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected votes to sum to 1, got %v", sum)
	}
}

func TestExtractFallsBackToStrippedTicks(t *testing.T) {
	tree, keys, withTicks, withoutTicks := newTreeAndPatterns(t, 2, 3, 20)
	want := keys[0]
	stripped := stripTicksForTest(want.Key)

	choice := types.Choice{Delta: types.Delta{Content: strPtr(stripped)}}
	votes, ok := Extract(tree, withTicks, withoutTicks, 3, choice)
	if !ok {
		t.Fatal("expected a fallback match on stripped ticks")
	}
	if !votes[want.Index].Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected all weight on index %d, got %v", want.Index, votes)
	}
}

func TestExtractNoMatchReturnsFalse(t *testing.T) {
	tree, _, withTicks, withoutTicks := newTreeAndPatterns(t, 3, 3, 20)
	choice := types.Choice{Delta: types.Delta{Content: strPtr("no label here at all")}}
	if _, ok := Extract(tree, withTicks, withoutTicks, 3, choice); ok {
		t.Fatal("expected no match")
	}
}

func TestExtractNoContentReturnsFalse(t *testing.T) {
	tree, _, withTicks, withoutTicks := newTreeAndPatterns(t, 4, 3, 20)
	choice := types.Choice{}
	if _, ok := Extract(tree, withTicks, withoutTicks, 3, choice); ok {
		t.Fatal("expected no content to be treated as no match")
	}
}

func strPtr(s string) *string { return &s }

func stripTicksForTest(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] != '`' {
			out = append(out, key[i])
		}
	}
	return string(out)
}
