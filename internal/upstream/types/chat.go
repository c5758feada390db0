// Package types defines the downstream wire shapes this gateway emits:
// streaming chat-completion chunks, vector-completion chunks, and the
// usage/cost envelopes layered on top of them (spec §6.1, §6.2).
package types

import "github.com/shopspring/decimal"

// ChatCompletionChunk is one SSE `data:` payload of a streaming chat
// completion, downstream shape (spec §6.1).
type ChatCompletionChunk struct {
	ID                string          `json:"id"`
	UpstreamID         string          `json:"upstream_id,omitempty"`
	Choices           []Choice        `json:"choices"`
	Created           int64           `json:"created"`
	Model             string          `json:"model"`
	UpstreamModel     string          `json:"upstream_model,omitempty"`
	Object            string          `json:"object"`
	ServiceTier       string          `json:"service_tier,omitempty"`
	SystemFingerprint string          `json:"system_fingerprint,omitempty"`
	Usage             *Usage          `json:"usage,omitempty"`
	Provider          string          `json:"provider,omitempty"`
}

// Choice is one streamed choice delta, plus optional logprobs.
type Choice struct {
	Index        int       `json:"index"`
	Delta        Delta     `json:"delta"`
	FinishReason *string   `json:"finish_reason,omitempty"`
	Logprobs     *Logprobs `json:"logprobs,omitempty"`
}

// Delta is the incremental content of a streamed choice.
type Delta struct {
	Role      *string    `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	Refusal   *string    `json:"refusal,omitempty"`
	Reasoning *string    `json:"reasoning,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one streamed tool-call delta, matched across chunks by Index.
type ToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string  `json:"name,omitempty"`
	Arguments *string `json:"arguments,omitempty"`
}

// Logprobs carries the per-token log-probability detail used by VoteExtractor.
type Logprobs struct {
	Content []ContentLogprob `json:"content,omitempty"`
}

type ContentLogprob struct {
	Token       string        `json:"token"`
	Logprob     float64       `json:"logprob"`
	TopLogprobs []TopLogprob  `json:"top_logprobs"`
}

type TopLogprob struct {
	Token   string   `json:"token"`
	Logprob *float64 `json:"logprob,omitempty"`
}

// Usage is the accumulated token/cost accounting for a completion (spec §6.1,
// §4.4's cost transform).
type Usage struct {
	CompletionTokens        int64                `json:"completion_tokens"`
	PromptTokens             int64                `json:"prompt_tokens"`
	TotalTokens              int64                `json:"total_tokens"`
	CompletionTokensDetails *TokenDetails         `json:"completion_tokens_details,omitempty"`
	PromptTokensDetails     *TokenDetails         `json:"prompt_tokens_details,omitempty"`
	Cost                     decimal.Decimal       `json:"cost"`
	CostDetails              *CostDetails          `json:"cost_details,omitempty"`
	TotalCost                decimal.Decimal       `json:"total_cost"`
	CostMultiplier            decimal.Decimal       `json:"cost_multiplier"`
	IsBYOK                    bool                  `json:"is_byok"`
}

// TokenDetails sums field-wise when chunks accumulate (spec §4.4).
type TokenDetails struct {
	ReasoningTokens          int64 `json:"reasoning_tokens,omitempty"`
	AudioTokens              int64 `json:"audio_tokens,omitempty"`
	CachedTokens             int64 `json:"cached_tokens,omitempty"`
	AcceptedPredictionTokens int64 `json:"accepted_prediction_tokens,omitempty"`
	RejectedPredictionTokens int64 `json:"rejected_prediction_tokens,omitempty"`
}

func (d *TokenDetails) add(o *TokenDetails) *TokenDetails {
	if o == nil {
		return d
	}
	if d == nil {
		cp := *o
		return &cp
	}
	d.ReasoningTokens += o.ReasoningTokens
	d.AudioTokens += o.AudioTokens
	d.CachedTokens += o.CachedTokens
	d.AcceptedPredictionTokens += o.AcceptedPredictionTokens
	d.RejectedPredictionTokens += o.RejectedPredictionTokens
	return d
}

// CostDetails isolates upstream-inference-cost when the request is BYOK
// (spec §4.4).
type CostDetails struct {
	UpstreamInferenceCost         decimal.Decimal  `json:"upstream_inference_cost"`
	UpstreamUpstreamInferenceCost *decimal.Decimal `json:"upstream_upstream_inference_cost,omitempty"`
}

// AddUsage accumulates o into u field-wise (spec §4.4 chunk accumulation).
func (u *Usage) AddUsage(o *Usage) {
	if o == nil {
		return
	}
	u.CompletionTokens += o.CompletionTokens
	u.PromptTokens += o.PromptTokens
	u.TotalTokens += o.TotalTokens
	u.CompletionTokensDetails = u.CompletionTokensDetails.add(o.CompletionTokensDetails)
	u.PromptTokensDetails = u.PromptTokensDetails.add(o.PromptTokensDetails)
	u.Cost = u.Cost.Add(o.Cost)
	u.TotalCost = u.TotalCost.Add(o.TotalCost)
}
