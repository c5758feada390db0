package ensemble

import "github.com/shopspring/decimal"

// ProfileEntry is one flattened-LLM weight (spec §3.4). When Invert is set,
// VectorVotingEngine transforms the per-LLM vote `v[i] <- (1-v[i])/(N-1)`
// before weighting.
type ProfileEntry struct {
	Weight decimal.Decimal `json:"weight"`
	Invert bool            `json:"invert,omitempty"`
}

// Profile is a length-C vector of weights, one per flattened ensemble slot.
type Profile []ProfileEntry

// VoteSource records how a slot's vote was produced (spec §3.3).
type VoteSource string

const (
	SourceFresh     VoteSource = "fresh"
	SourceFromCache VoteSource = "from_cache"
	SourceFromRNG   VoteSource = "from_rng"
	SourceRetry     VoteSource = "retry"
)

// Vote is one LLM slot's probability distribution over the candidate
// responses (spec §3.3).
type Vote struct {
	Model             string            `json:"model"`
	EnsembleIndex     int               `json:"ensemble_index"`
	FlatEnsembleIndex int               `json:"flat_ensemble_index"`
	PromptID          string            `json:"prompt_id"`
	ToolsID           *string           `json:"tools_id,omitempty"`
	ResponsesIDs      []string          `json:"responses_ids"`
	Vote              []decimal.Decimal `json:"vote"`
	Weight            decimal.Decimal   `json:"weight"`
	Source            VoteSource        `json:"source"`
}
