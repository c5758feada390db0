package pfx

import (
	"math/rand"
	"testing"
)

func collectLeaves(t *Tree, depth int, out *[]int) int {
	if t.isLeaf {
		*out = append(*out, t.leaf)
		return depth
	}
	maxDepth := -1
	childLimit := len(t.order)
	if childLimit > MaxWidth {
		panic("branch exceeds MaxWidth")
	}
	for _, lbl := range t.order {
		d := collectLeaves(t.branch[lbl], depth+1, out)
		if maxDepth == -1 {
			maxDepth = d
		} else if d != maxDepth {
			panic("leaves at unequal depth")
		}
	}
	return maxDepth
}

func TestTreeCoverage(t *testing.T) {
	for _, n := range []int{1, 2, 5, 19, 20, 21, 40, 100, 127} {
		for _, w := range []int{2, 5, 20} {
			rng := rand.New(rand.NewSource(int64(n*1000 + w)))
			tree := New(rng, n, w)
			var leaves []int
			collectLeaves(tree, 0, &leaves)
			if len(leaves) != n {
				t.Fatalf("N=%d W=%d: got %d leaves, want %d", n, w, len(leaves), n)
			}
			seen := make(map[int]bool, n)
			for _, idx := range leaves {
				if idx < 0 || idx >= n || seen[idx] {
					t.Fatalf("N=%d W=%d: leaves not a permutation of [0,%d), got %v", n, w, n, leaves)
				}
				seen[idx] = true
			}
		}
	}
}

func TestRegexPatternsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := New(rng, 3, 20)
	keys := tree.KeyIndices(rng)
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	withTicks, withoutTicks := RegexPatterns(keys)
	for _, k := range keys {
		if !containsSub(withTicks, k.Key) {
			t.Fatalf("with-ticks pattern missing key %q", k.Key)
		}
		if !containsSub(withoutTicks, stripTicks(k.Key)) {
			t.Fatalf("without-ticks pattern missing stripped key %q", stripTicks(k.Key))
		}
	}
}

func containsSub(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
