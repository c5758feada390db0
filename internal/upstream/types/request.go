package types

import "encoding/json"

// RequestMessage is one message in the upstream-bound chat request body.
type RequestMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []RequestToolCall `json:"tool_calls,omitempty"`
}

type RequestToolCall struct {
	ID       string                   `json:"id"`
	Type     string                   `json:"type"`
	Function RequestToolCallFunction  `json:"function"`
}

type RequestToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is one function-calling tool definition.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolChoice selects "auto", "none", or forces a specific named function.
type ToolChoice struct {
	Mode     string // "auto", "none", "function"
	Function string
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Mode != "function" {
		return json.Marshal(t.Mode)
	}
	return json.Marshal(struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}{Type: "function", Function: struct {
		Name string `json:"name"`
	}{Name: t.Function}})
}

// ResponseFormat selects plain text or a JSON schema-constrained response.
type ResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *JSONSchemaSpec `json:"json_schema,omitempty"`
}

type JSONSchemaSpec struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// RequestProviderPreferences is the provider-routing block sent upstream,
// merging Ensemble-LLM-owned fields (allow_fallbacks, require_parameters,
// order, only, ignore, quantizations) with request-owned fields
// (data_collection, zdr, sort, max_price, throughput/latency hints) per
// spec §4.3.
type RequestProviderPreferences struct {
	AllowFallbacks  *bool    `json:"allow_fallbacks,omitempty"`
	RequireParams   *bool    `json:"require_parameters,omitempty"`
	Order           []string `json:"order,omitempty"`
	Only            []string `json:"only,omitempty"`
	Ignore          []string `json:"ignore,omitempty"`
	Quantizations   []string `json:"quantizations,omitempty"`

	DataCollection string   `json:"data_collection,omitempty"`
	ZDR            *bool    `json:"zdr,omitempty"`
	Sort           string   `json:"sort,omitempty"`
	MaxPrice       json.RawMessage `json:"max_price,omitempty"`
	MinThroughput  *float64 `json:"min_throughput,omitempty"`
	MaxLatency     *float64 `json:"max_latency,omitempty"`
}

// StreamOptions forces usage accounting on every stream (spec §4.3).
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// UsageOptions mirrors OpenRouter's request-level usage toggle.
type UsageOptions struct {
	Include bool `json:"include"`
}

// ChatCompletionRequest is the fully-assembled upstream-bound request body
// PromptBuilder produces (spec §4.3's "Output of PromptBuilder").
type ChatCompletionRequest struct {
	Model          string                      `json:"model"`
	Messages       []RequestMessage            `json:"messages"`
	Tools          []Tool                      `json:"tools,omitempty"`
	ToolChoice     *ToolChoice                 `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat             `json:"response_format,omitempty"`
	Stream         bool                        `json:"stream"`
	StreamOptions  StreamOptions               `json:"stream_options"`
	Usage          UsageOptions                `json:"usage"`
	Logprobs       bool                        `json:"logprobs,omitempty"`
	TopLogprobs    *int64                      `json:"top_logprobs,omitempty"`

	Temperature         *float64                     `json:"temperature,omitempty"`
	TopP                *float64                     `json:"top_p,omitempty"`
	TopK                *int64                       `json:"top_k,omitempty"`
	TopA                *float64                     `json:"top_a,omitempty"`
	MinP                *float64                     `json:"min_p,omitempty"`
	FrequencyPenalty    *float64                     `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64                     `json:"presence_penalty,omitempty"`
	RepetitionPenalty   *float64                     `json:"repetition_penalty,omitempty"`
	MaxTokens           *int64                       `json:"max_tokens,omitempty"`
	Stop                json.RawMessage              `json:"stop,omitempty"`
	LogitBias           map[string]int64             `json:"logit_bias,omitempty"`
	Provider            *RequestProviderPreferences  `json:"provider,omitempty"`
	Reasoning           json.RawMessage              `json:"reasoning,omitempty"`
	Verbosity           string                       `json:"verbosity,omitempty"`
}
