// Package vote implements VoteExtractor (C2): turning one upstream choice
// delta into a length-N probability vector, using logprobs when they align
// with a matched label and falling back to a discrete vote otherwise.
// Grounded on the source's get_vote.rs.
package vote

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"ensemblegateway/internal/voting/pfx"
	"ensemblegateway/internal/upstream/types"
)

// Extract returns the length-responsesLen vote vector for choice, or
// ok=false if no response key could be found in its content (spec §4.2).
func Extract(tree *pfx.Tree, withTicksPattern, withoutTicksPattern string, responsesLen int, choice types.Choice) (vec []decimal.Decimal, ok bool) {
	content, hasContent := buildContent(choice)
	if !hasContent {
		return nil, false
	}

	matches := findMatches(withTicksPattern, content)
	if len(matches) == 0 {
		matches = findMatches(withoutTicksPattern, content)
	}
	if len(matches) == 0 {
		return nil, false
	}

	matchesLen := decimal.NewFromInt(int64(len(matches)))
	votes := make([]decimal.Decimal, responsesLen)
	for i := range votes {
		votes[i] = decimal.Zero
	}

	var logprobs []types.ContentLogprob
	if choice.Logprobs != nil {
		logprobs = choice.Logprobs.Content
	}
	logprobI := 0

	// Process matches from last-in-string to first, sharing the logprob
	// cursor across them so the same token is never double-matched.
	for m := len(matches) - 1; m >= 0; m-- {
		key := matches[m]
		finalPfxChar, finalPfx, found := deepestLabel(key)
		if !found {
			continue
		}

		node := tree
		depth := tree.Depth()
		i := depth - 1
		if i > 0 {
			for _, r := range key {
				if lbl, ok := pfx.FromChar(byte(r)); ok {
					node = node.Get(lbl)
					i--
					if i == 0 {
						break
					}
				}
			}
		}

		fromLogprobs := false
		if len(logprobs) > 0 {
			keyRev := reverseString(key)
			remaining := keyRev

			var keyLogprob *types.ContentLogprob
			keyLogprobIndex := 0

		outer:
			for ; logprobI < len(logprobs); logprobI++ {
				lp := logprobs[len(logprobs)-1-logprobI]
				tokenBytes := lp.Token
				byteOff := len(tokenBytes)
				runes := []rune(tokenBytes)
				for ri := len(runes) - 1; ri >= 0; ri-- {
					c := runes[ri]
					byteOff -= utf8Len(c)
					if strings.HasPrefix(remaining, string(c)) {
						remaining = remaining[utf8Len(c):]
						if keyLogprob == nil && c == rune(finalPfxChar) {
							cp := lp
							keyLogprob = &cp
							keyLogprobIndex = byteOff
						}
						if remaining == "" {
							logprobI++
							break outer
						}
					} else if remaining != keyRev {
						remaining = keyRev
						keyLogprob = nil
						keyLogprobIndex = 0
					}
				}
			}

			if remaining == "" && keyLogprob != nil {
				probabilities := make([]decimal.Decimal, responsesLen)
				for i := range probabilities {
					probabilities[i] = decimal.Zero
				}
				probSum := decimal.Zero
				for _, tl := range keyLogprob.TopLogprobs {
					if tl.Logprob == nil {
						continue
					}
					c, ok := runeAtByteIndex(tl.Token, keyLogprobIndex)
					if !ok {
						continue
					}
					lbl, ok := pfx.FromChar(byte(c))
					if !ok {
						continue
					}
					leaf := node.Get(lbl)
					if leaf == nil {
						continue
					}
					fromLogprobs = true
					p := decimal.NewFromFloat(math.Exp(*tl.Logprob))
					probabilities[leaf.Leaf()] = probabilities[leaf.Leaf()].Add(p)
					probSum = probSum.Add(p)
				}
				if probSum.GreaterThan(decimal.Zero) {
					for j := range votes {
						share := probabilities[j].Div(probSum).Div(matchesLen)
						votes[j] = votes[j].Add(share)
					}
				}
			}
		}

		if !fromLogprobs {
			leaf := node.Get(finalPfx)
			if leaf != nil {
				idx := leaf.Leaf()
				votes[idx] = votes[idx].Add(decimal.NewFromInt(1).Div(matchesLen))
			}
		}
	}

	return votes, true
}

func findMatches(pattern, content string) []string {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	return re.FindAllString(content, -1)
}

// deepestLabel scans key from its end for the rightmost valid label
// character (the label closest to the leaf).
func deepestLabel(key string) (pfx.Label, pfx.Label, bool) {
	runes := []rune(key)
	for i := len(runes) - 1; i >= 0; i-- {
		if lbl, ok := pfx.FromChar(byte(runes[i])); ok {
			return lbl, lbl, true
		}
	}
	return 0, 0, false
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func utf8Len(r rune) int {
	return len(string(r))
}

func runeAtByteIndex(s string, byteIdx int) (rune, bool) {
	for i, r := range s {
		if i == byteIdx {
			return r, true
		}
	}
	return 0, false
}

// buildContent concatenates tool-call arguments (in order) then delta
// content into one searchable string, mirroring the source's Content enum
// (spec §4.2 step 1). Returns ok=false when there is nothing to search.
func buildContent(choice types.Choice) (string, bool) {
	var b strings.Builder
	for _, tc := range choice.Delta.ToolCalls {
		if tc.Function.Arguments != nil {
			b.WriteString(*tc.Function.Arguments)
		}
	}
	if choice.Delta.Content != nil {
		b.WriteString(*choice.Delta.Content)
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}
