package types

import "github.com/shopspring/decimal"

// VoteSource mirrors ensemble.VoteSource without importing package ensemble,
// keeping the wire-types package free of that dependency. The engine and the
// HTTP handlers emit ensemble.Vote directly; nothing converts between the two.
type VoteSource string

const (
	SourceFresh     VoteSource = "fresh"
	SourceFromCache VoteSource = "from_cache"
	SourceFromRNG   VoteSource = "from_rng"
	SourceRetry     VoteSource = "retry"
)

// Vote is the wire shape of ensemble.Vote (spec §3.3, §6.2).
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

// VectorCompletionChunk is one SSE payload of a streaming vector completion
// (spec §6.2).
type VectorCompletionChunk struct {
	ID          string                `json:"id"`
	Completions []ChatCompletionChunk `json:"completions"`
	Votes       []Vote                `json:"votes"`
	Scores      []decimal.Decimal     `json:"scores"`
	Weights     []decimal.Decimal     `json:"weights"`
	Created     int64                 `json:"created"`
	Ensemble    string                `json:"ensemble"`
	Object      string                `json:"object"`
	Usage       *Usage                `json:"usage,omitempty"`
}
