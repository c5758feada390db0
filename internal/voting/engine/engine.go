// Package engine implements VectorVotingEngine (C8): fanning a vector
// completion out across every flattened Ensemble slot, extracting each
// slot's vote, and reducing them through a Profile's weights into the final
// per-candidate scores (spec §4.8).
package engine

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ensemblegateway/internal/addressing"
	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/gwerrors"
	"ensemblegateway/internal/upstream/client"
	"ensemblegateway/internal/upstream/prompt"
	"ensemblegateway/internal/upstream/retry"
	"ensemblegateway/internal/upstream/router"
	"ensemblegateway/internal/upstream/types"
	"ensemblegateway/internal/voting/pfx"
	"ensemblegateway/internal/voting/vote"
)

// DefaultBranchWidth is used when an Ensemble-LLM does not request
// top_logprobs: the provider's logprobs window is assumed to be the widest
// this gateway supports (spec §3.2, §4.1).
const DefaultBranchWidth = pfx.MaxWidth

// Deps are the engine's external collaborators, all opaque per spec §1
// Non-goals.
type Deps struct {
	Client    *client.Client
	Transport contracts.UpstreamTransport
	ReqCtx    contracts.RequestContext

	FirstChunkTimeout time.Duration
	OtherChunkTimeout time.Duration

	CostMultiplier decimal.Decimal
}

// Output is VectorVotingEngine's reduction result (spec §3.3's
// VectorCompletionOutput{votes, scores, weights}). Weights is the
// per-candidate unnormalized weighted-vote numerator
// (weights[j] = Σ weightᵢ·voteᵢ[j], spec §4.8 step 7 / vector_completion_chunk.rs),
// not a per-slot echo of the profile's weights.
type Output struct {
	Scores  []decimal.Decimal
	Votes   []ensemble.Vote
	Weights []decimal.Decimal
}

// Run executes one vector completion: it fans out across every flattened
// slot of ens, weighted by profile (profile[i] corresponds to the i'th
// flattened slot, spec §3.4), and reduces the results into scores over
// candidates.
func Run(ctx context.Context, deps Deps, rng *rand.Rand, ens ensemble.Ensemble, profile ensemble.Profile, messages []ensemble.Message, candidates []prompt.Candidate, reqProvider prompt.RequestProviderFields) (*Output, error) {
	slots := ens.Flatten()
	if len(slots) == 0 {
		return nil, gwerrors.New(gwerrors.KindVector, "ensemble has no slots")
	}
	if len(profile) != len(slots) {
		return nil, gwerrors.New(gwerrors.KindVector, "profile length must match flattened ensemble length")
	}

	results := make([]slotResult, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	for i, slot := range slots {
		i, slot := i, slot
		g.Go(func() error {
			r, err := runSlot(gctx, deps, rng, slot, messages, candidates, reqProvider)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return reduce(results, slots, profile, len(candidates)), nil
}

// reduce implements spec §4.8 steps 6-8: every matched slot contributes
// weightᵢ·voteᵢ to the per-candidate numerator and weightᵢ to the total
// weight W; unmatched slots are excluded entirely rather than folded in as a
// uniform guess (from_rng is the Dirichlet/simulation vote source, step 4,
// not a parse-failure fallback). scores[j] = weights[j] / W, the
// renormalization §3.4 requires so profile weights that don't sum to 1 still
// yield Σⱼ scores[j] == 1 (P5). Uniform scores are produced only when no
// slot yielded a usable vote at all (step 8, scenario 5's votes == []).
func reduce(results []slotResult, slots []ensemble.Slot, profile ensemble.Profile, n int) *Output {
	weights := make([]decimal.Decimal, n)
	totalWeight := decimal.Zero
	votesOut := make([]ensemble.Vote, 0, len(results))

	for i, r := range results {
		if !r.matched {
			continue
		}
		entry := profile[i]
		v := r.vote
		if entry.Invert && n > 1 {
			v = invert(v, n)
		}
		for j := 0; j < n; j++ {
			weights[j] = weights[j].Add(v[j].Mul(entry.Weight))
		}
		totalWeight = totalWeight.Add(entry.Weight)
		votesOut = append(votesOut, ensemble.Vote{
			Model:             r.modelID,
			EnsembleIndex:     slots[i].EnsembleIndex,
			FlatEnsembleIndex: slots[i].FlatIndex,
			PromptID:          r.promptID,
			ResponsesIDs:      r.responseIDs,
			Vote:              v,
			Weight:            entry.Weight,
			Source:            r.source,
		})
	}

	var scores []decimal.Decimal
	if len(votesOut) == 0 || totalWeight.IsZero() {
		scores = uniform(n)
	} else {
		scores = make([]decimal.Decimal, n)
		for j := 0; j < n; j++ {
			scores[j] = weights[j].Div(totalWeight)
		}
	}

	return &Output{Scores: scores, Votes: votesOut, Weights: weights}
}

// invert applies the profile's anti-correlation transform: v[i] <-
// (1-v[i])/(N-1), spreading the complement of each candidate's mass evenly
// over the rest (spec §3.4).
func invert(v []decimal.Decimal, n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	denom := decimal.NewFromInt(int64(n - 1))
	for i, p := range v {
		out[i] = decimal.NewFromInt(1).Sub(p).Div(denom)
	}
	return out
}

type slotResult struct {
	modelID     string
	promptID    string
	responseIDs []string
	vote        []decimal.Decimal
	source      ensemble.VoteSource
	matched     bool
}

// runSlot sweeps a single flattened slot's primary LLM and fallback chain,
// stopping at the first attempt whose stream completes without error; a
// completion whose vote cannot be matched also ends the sweep.
func runSlot(ctx context.Context, deps Deps, rng *rand.Rand, slot ensemble.Slot, messages []ensemble.Message, candidates []prompt.Candidate, reqProvider prompt.RequestProviderFields) (slotResult, error) {
	chain := make([]ensemble.LLM, 0, 1+len(slot.LLM.Fallbacks))
	chain = append(chain, slot.LLM.Inner)
	chain = append(chain, slot.LLM.Fallbacks...)

	// retry.Sweep is keyed by model id strings; this slot's "models" are
	// positions in its fallback chain, not provider model names.
	ids := make([]string, len(chain))
	for i := range chain {
		ids[i] = strconv.Itoa(i)
	}

	var result slotResult
	attempt := func(ctx context.Context, positional string) error {
		idx, _ := strconv.Atoi(positional)
		llm := chain[idx]
		src := ensemble.SourceFresh
		if idx > 0 {
			src = ensemble.SourceRetry
		}
		r, err := attemptLLM(ctx, deps, rng, llm, messages, candidates, reqProvider, src)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	if err := retry.Sweep(ctx, retry.DefaultOptions(), ids, attempt); err != nil {
		return slotResult{}, err
	}
	return result, nil
}

func attemptLLM(ctx context.Context, deps Deps, rng *rand.Rand, llm ensemble.LLM, messages []ensemble.Message, candidates []prompt.Candidate, reqProvider prompt.RequestProviderFields, source ensemble.VoteSource) (slotResult, error) {
	branchWidth := DefaultBranchWidth
	if llm.Base.TopLogprobs != nil && *llm.Base.TopLogprobs > 0 && int(*llm.Base.TopLogprobs) < branchWidth {
		branchWidth = int(*llm.Base.TopLogprobs)
	}

	tree := pfx.New(rng, len(candidates), branchWidth)
	keys := tree.KeyIndices(rng)
	withTicks, withoutTicks := pfx.RegexPatterns(keys)

	body, err := prompt.Build(prompt.Options{
		LLM:             llm.Base,
		Messages:        messages,
		Responses:       candidates,
		Keys:            keys,
		RequestProvider: reqProvider,
	})
	if err != nil {
		return slotResult{}, err
	}

	promptID, err := addressing.ComputeJSON(body)
	if err != nil {
		return slotResult{}, err
	}

	endpoint := deps.Transport.Endpoint("openrouter")
	providers := []router.Provider{{Key: "openrouter", Endpoint: endpoint}}

	rw := client.RewriteOptions{
		ResponseID:    promptID,
		EnsembleLLMID: llm.ID,
		Cost:          client.CostOptions{Multiplier: deps.CostMultiplier},
	}

	res, err := router.Route(ctx, deps.Client, providers, deps.ReqCtx, body, deps.FirstChunkTimeout, deps.OtherChunkTimeout, rw)
	if err != nil {
		return slotResult{}, err
	}
	if res == nil {
		return slotResult{}, gwerrors.New(gwerrors.KindNoUpstreamsFound, "no provider produced a live stream")
	}

	final, err := accumulate(res.Stream)
	if err != nil {
		return slotResult{}, err
	}

	// A label this slot's completion cannot be matched to any candidate is
	// excluded from reduction entirely (spec §4.8 step 6), not replaced by a
	// guess: from_rng (step 4) is the Dirichlet/simulation vote source, not a
	// parse-failure fallback.
	n := len(candidates)
	vec, ok := vote.Extract(tree, withTicks, withoutTicks, n, final)
	if !ok {
		return slotResult{modelID: llm.ID, matched: false}, nil
	}

	return slotResult{
		modelID:     llm.ID,
		promptID:    promptID,
		responseIDs: candidateIDs(candidates),
		vote:        vec,
		source:      source,
		matched:     true,
	}, nil
}

func uniform(n int) []decimal.Decimal {
	out := make([]decimal.Decimal, n)
	if n == 0 {
		return out
	}
	share := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(n)))
	for i := range out {
		out[i] = share
	}
	return out
}

func candidateIDs(candidates []prompt.Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		id, err := addressing.ComputeJSON(c.Parts)
		if err != nil {
			continue
		}
		ids[i] = id
	}
	return ids
}

// accumulate drains a client.Event stream into one final Choice carrying the
// full concatenated content, tool-call arguments, and logprobs, the shape
// VoteExtractor expects (spec §4.4's "accumulate, then vote once at stream
// end").
func accumulate(stream <-chan client.Event) (types.Choice, error) {
	var final types.Choice
	var content strings.Builder
	toolArgs := map[int]*strings.Builder{}
	toolMeta := map[int]types.ToolCall{}
	var logprobs []types.ContentLogprob

	for ev := range stream {
		if ev.Err != nil {
			return types.Choice{}, ev.Err
		}
		if ev.Chunk == nil || len(ev.Chunk.Choices) == 0 {
			continue
		}
		c := ev.Chunk.Choices[0]
		if c.Delta.Content != nil {
			content.WriteString(*c.Delta.Content)
		}
		for _, tc := range c.Delta.ToolCalls {
			b, ok := toolArgs[tc.Index]
			if !ok {
				b = &strings.Builder{}
				toolArgs[tc.Index] = b
				toolMeta[tc.Index] = tc
			}
			if tc.Function.Arguments != nil {
				b.WriteString(*tc.Function.Arguments)
			}
		}
		if c.Logprobs != nil {
			logprobs = append(logprobs, c.Logprobs.Content...)
		}
		if c.FinishReason != nil {
			final.FinishReason = c.FinishReason
		}
	}

	text := content.String()
	final.Delta.Content = &text
	if len(toolMeta) > 0 {
		indices := make([]int, 0, len(toolMeta))
		for i := range toolMeta {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		for _, i := range indices {
			tc := toolMeta[i]
			args := toolArgs[i].String()
			tc.Function.Arguments = &args
			final.Delta.ToolCalls = append(final.Delta.ToolCalls, tc)
		}
	}
	if len(logprobs) > 0 {
		final.Logprobs = &types.Logprobs{Content: logprobs}
	}
	return final, nil
}
