// Package prompt implements PromptBuilder (C3): assembling the upstream
// request body for chat and vector completions, across the three output
// modes (instruction, json_schema, tool_call), grounded on the source's
// prompt-assembly contract described in spec §4.3.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/upstream/types"
	"ensemblegateway/internal/voting/pfx"
)

// ImageOverlayRenderer relabels a data: URL image with an 8x8 pixel-font
// header identifying its candidate label. Rendering itself is explicitly
// out of this gateway's scope (spec §1 Non-goals); this interface is the
// contract boundary a renderer collaborator plugs into. A nil renderer
// leaves every image unchanged.
type ImageOverlayRenderer interface {
	Overlay(dataURL, label string) (string, error)
}

// Candidate is one vector-completion candidate response.
type Candidate struct {
	Parts []ensemble.ContentPart `json:"parts"`
}

// Options carries the per-request inputs PromptBuilder needs beyond the
// Ensemble-LLM definition itself.
type Options struct {
	LLM       ensemble.Base
	Messages  []ensemble.Message // caller-supplied conversation
	Responses []Candidate        // nil for plain chat completions
	Keys      []pfx.KeyIndex     // prefix-tree labels, aligned with Responses by Index
	Renderer  ImageOverlayRenderer
	RequestProvider RequestProviderFields
}

// RequestProviderFields are the request-scoped provider-preference fields
// spec §4.3 says come from the caller rather than the Ensemble-LLM.
type RequestProviderFields struct {
	DataCollection string
	ZDR            *bool
	Sort           string
	MaxPrice       json.RawMessage
	MinThroughput  *float64
	MaxLatency     *float64
}

// Build assembles the full upstream-bound request. When opts.Responses is
// non-empty this is a vector completion; otherwise a plain chat completion.
func Build(opts Options) (*types.ChatCompletionRequest, error) {
	messages, err := mergeMessages(opts.LLM, opts.Messages)
	if err != nil {
		return nil, err
	}

	var labels []string
	if len(opts.Responses) > 0 {
		messages, labels, err = appendCandidates(messages, opts.Responses, opts.Keys, opts.Renderer)
		if err != nil {
			return nil, err
		}
	}

	req := &types.ChatCompletionRequest{
		Model:             opts.LLM.Model,
		Messages:          messages,
		Stream:            true,
		StreamOptions:     types.StreamOptions{IncludeUsage: true},
		Usage:             types.UsageOptions{Include: true},
		Temperature:       opts.LLM.Temperature,
		TopP:              opts.LLM.TopP,
		TopK:              opts.LLM.TopK,
		TopA:              opts.LLM.TopA,
		MinP:              opts.LLM.MinP,
		FrequencyPenalty:  opts.LLM.FrequencyPenalty,
		PresencePenalty:   opts.LLM.PresencePenalty,
		RepetitionPenalty: opts.LLM.RepetitionPenalty,
		MaxTokens:         firstNonNilInt(opts.LLM.MaxTokens, opts.LLM.MaxCompletionTokens),
		Verbosity:         string(opts.LLM.Verbosity),
	}
	if opts.LLM.TopLogprobs != nil {
		req.Logprobs = true
		req.TopLogprobs = opts.LLM.TopLogprobs
	}
	if len(opts.LLM.LogitBias) > 0 {
		req.LogitBias = map[string]int64(opts.LLM.LogitBias)
	}
	if opts.LLM.Stop != nil {
		stopJSON, err := json.Marshal(opts.LLM.Stop)
		if err != nil {
			return nil, err
		}
		req.Stop = stopJSON
	}
	if opts.LLM.Reasoning != nil {
		reasoningJSON, err := json.Marshal(opts.LLM.Reasoning)
		if err != nil {
			return nil, err
		}
		req.Reasoning = reasoningJSON
	}
	req.Provider = mergeProvider(opts.LLM.Provider, opts.RequestProvider)

	if len(labels) > 0 {
		synthetic := opts.LLM.SyntheticReasoning != nil && *opts.LLM.SyntheticReasoning
		if err := applyOutputMode(req, opts.LLM.OutputMode, labels, synthetic); err != nil {
			return nil, err
		}
	}

	return req, nil
}

func firstNonNilInt(a, b *int64) *int64 {
	if a != nil {
		return a
	}
	return b
}

func mergeMessages(llm ensemble.Base, caller []ensemble.Message) ([]types.RequestMessage, error) {
	all := make([]ensemble.Message, 0, len(llm.PrefixMessages)+len(caller)+len(llm.SuffixMessages))
	all = append(all, llm.PrefixMessages...)
	all = append(all, caller...)
	all = append(all, llm.SuffixMessages...)

	out := make([]types.RequestMessage, 0, len(all))
	for _, m := range all {
		rm, err := toRequestMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, nil
}

func toRequestMessage(m ensemble.Message) (types.RequestMessage, error) {
	if m.Text != nil {
		content, err := json.Marshal(*m.Text)
		if err != nil {
			return types.RequestMessage{}, err
		}
		return types.RequestMessage{Role: m.Role, Content: content}, nil
	}
	content, err := json.Marshal(m.Content)
	if err != nil {
		return types.RequestMessage{}, err
	}
	return types.RequestMessage{Role: m.Role, Content: content}, nil
}

// appendCandidates locates (or creates) the last user message and appends
// the candidate-selection block: "Select the response:\n\n" followed by
// each candidate rendered as "`<label>`\n\n" plus its content parts (spec
// §4.3). Returns the rewritten messages and each candidate's label, indexed
// identically to opts.Responses.
func appendCandidates(messages []types.RequestMessage, responses []Candidate, keys []pfx.KeyIndex, renderer ImageOverlayRenderer) ([]types.RequestMessage, []string, error) {
	labelByIndex := make([]string, len(responses))
	for _, k := range keys {
		if k.Index >= 0 && k.Index < len(labelByIndex) {
			labelByIndex[k.Index] = k.Key
		}
	}

	parts := make([]ensemble.ContentPart, 0, 8)
	parts = append(parts, ensemble.ContentPart{Type: "text", Text: "Select the response:\n\n"})
	for i, cand := range responses {
		parts = append(parts, ensemble.ContentPart{Type: "text", Text: labelByIndex[i] + "\n\n"})
		for _, p := range cand.Parts {
			rendered, err := renderPart(p, labelByIndex[i], renderer)
			if err != nil {
				return nil, nil, err
			}
			parts = append(parts, rendered)
		}
	}

	merged, collapsedText, collapse := mergeParts(parts)
	var contentJSON json.RawMessage
	var err error
	if collapse {
		contentJSON, err = json.Marshal(collapsedText)
	} else {
		contentJSON, err = json.Marshal(merged)
	}
	if err != nil {
		return nil, nil, err
	}

	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser = i
			break
		}
	}

	out := make([]types.RequestMessage, len(messages))
	copy(out, messages)
	if lastUser == -1 {
		out = append(out, types.RequestMessage{Role: "user", Content: contentJSON})
	} else {
		appended, err := appendToMessageContent(out[lastUser], merged, collapse, collapsedText)
		if err != nil {
			return nil, nil, err
		}
		out[lastUser] = appended
	}

	return out, labelByIndex, nil
}

func renderPart(p ensemble.ContentPart, label string, renderer ImageOverlayRenderer) (ensemble.ContentPart, error) {
	if p.Type != "image_url" || p.ImageURL == nil || renderer == nil {
		return p, nil
	}
	if !strings.HasPrefix(p.ImageURL.URL, "data:") {
		return p, nil
	}
	overlaid, err := renderer.Overlay(p.ImageURL.URL, label)
	if err != nil {
		return ensemble.ContentPart{}, err
	}
	cp := p
	url := *cp.ImageURL
	url.URL = overlaid
	cp.ImageURL = &url
	return cp, nil
}

func mergeParts(parts []ensemble.ContentPart) (merged []ensemble.ContentPart, text string, collapse bool) {
	out := make([]ensemble.ContentPart, 0, len(parts))
	for _, p := range parts {
		if p.Type == "text" && p.Text == "" {
			continue
		}
		if p.Type == "text" && len(out) > 0 && out[len(out)-1].Type == "text" {
			out[len(out)-1].Text += p.Text
			continue
		}
		out = append(out, p)
	}
	if len(out) == 1 && out[0].Type == "text" {
		return out, out[0].Text, true
	}
	return out, "", false
}

// appendToMessageContent appends the candidate block onto an existing
// user message's content, re-running the text-merge law across the
// boundary.
func appendToMessageContent(msg types.RequestMessage, newParts []ensemble.ContentPart, collapse bool, collapsedText string) (types.RequestMessage, error) {
	var existing []ensemble.ContentPart
	var existingText string
	if err := json.Unmarshal(msg.Content, &existingText); err == nil {
		existing = []ensemble.ContentPart{{Type: "text", Text: existingText}}
	} else {
		_ = json.Unmarshal(msg.Content, &existing)
	}

	all := append(existing, newParts...)
	if collapse && len(existing) == 0 {
		all = []ensemble.ContentPart{{Type: "text", Text: collapsedText}}
	}
	merged, text, doCollapse := mergeParts(all)

	var contentJSON json.RawMessage
	var err error
	if doCollapse {
		contentJSON, err = json.Marshal(text)
	} else {
		contentJSON, err = json.Marshal(merged)
	}
	if err != nil {
		return types.RequestMessage{}, err
	}
	msg.Content = contentJSON
	return msg, nil
}

func mergeProvider(llmProv *ensemble.ProviderPreferences, req RequestProviderFields) *types.RequestProviderPreferences {
	out := &types.RequestProviderPreferences{
		DataCollection: req.DataCollection,
		ZDR:            req.ZDR,
		Sort:           req.Sort,
		MaxPrice:       req.MaxPrice,
		MinThroughput:  req.MinThroughput,
		MaxLatency:     req.MaxLatency,
	}
	if llmProv != nil {
		out.AllowFallbacks = llmProv.AllowFallbacks
		out.RequireParams = llmProv.RequireParams
		out.Order = llmProv.Order
		out.Only = llmProv.Only
		out.Ignore = llmProv.Ignore
		for _, q := range llmProv.Quantizations {
			out.Quantizations = append(out.Quantizations, string(q))
		}
	}
	if out.AllowFallbacks == nil && out.RequireParams == nil && out.Order == nil &&
		out.Only == nil && out.Ignore == nil && out.Quantizations == nil &&
		out.DataCollection == "" && out.ZDR == nil && out.Sort == "" &&
		len(out.MaxPrice) == 0 && out.MinThroughput == nil && out.MaxLatency == nil {
		return nil
	}
	return out
}

func applyOutputMode(req *types.ChatCompletionRequest, mode ensemble.OutputMode, labels []string, synthetic bool) error {
	switch mode {
	case ensemble.OutputModeInstruction, "":
		req.Messages = appendSystemSuffix(req.Messages, instructionSuffix(labels))
		return nil
	case ensemble.OutputModeJSONSchema:
		schema, err := responseKeySchema(labels, synthetic)
		if err != nil {
			return err
		}
		req.ResponseFormat = &types.ResponseFormat{Type: "json_schema", JSONSchema: schema}
		return nil
	case ensemble.OutputModeToolCall:
		params, err := responseKeyToolParams(labels, synthetic)
		if err != nil {
			return err
		}
		tool := types.Tool{Type: "function", Function: types.ToolFunction{
			Name:        "response_key",
			Description: "Select the response.",
			Parameters:  params,
		}}
		req.Tools = append([]types.Tool{tool}, req.Tools...)
		req.ToolChoice = &types.ToolChoice{Mode: "function", Function: "response_key"}
		return nil
	default:
		return fmt.Errorf("prompt: unknown output_mode %q", mode)
	}
}

func instructionSuffix(labels []string) string {
	var b strings.Builder
	b.WriteString("Output one response key including backticks\n")
	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func appendSystemSuffix(messages []types.RequestMessage, suffix string) []types.RequestMessage {
	for i := range messages {
		if messages[i].Role != "system" {
			continue
		}
		var text string
		if err := json.Unmarshal(messages[i].Content, &text); err == nil {
			text = text + "\n\n" + suffix
			b, _ := json.Marshal(text)
			messages[i].Content = b
			return messages
		}
	}
	b, _ := json.Marshal(suffix)
	sys := types.RequestMessage{Role: "system", Content: b}
	return append([]types.RequestMessage{sys}, messages...)
}

func responseKeySchema(labels []string, synthetic bool) (*types.JSONSchemaSpec, error) {
	props := map[string]any{
		"response_key": map[string]any{"type": "string", "enum": labels},
	}
	required := []string{"response_key"}
	if synthetic {
		props["_think"] = map[string]any{"type": "string"}
		required = append([]string{"_think"}, required...)
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	return &types.JSONSchemaSpec{Name: "response", Strict: true, Schema: b}, nil
}

func responseKeyToolParams(labels []string, synthetic bool) (json.RawMessage, error) {
	props := map[string]any{
		"response_key": map[string]any{"type": "string", "enum": labels},
	}
	required := []string{"response_key"}
	if synthetic {
		props["_think"] = map[string]any{"type": "string"}
		required = append([]string{"_think"}, required...)
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	return json.Marshal(schema)
}
