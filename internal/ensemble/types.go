// Package ensemble defines the Ensemble-LLM and Ensemble data model (spec
// §3.1) and the normalization/validation/ID-computation that turns a
// caller-submitted definition into a content-addressed record.
package ensemble

import "encoding/json"

// OutputMode selects how an upstream model is instructed to emit its vote.
type OutputMode string

const (
	OutputModeInstruction OutputMode = "instruction"
	OutputModeJSONSchema  OutputMode = "json_schema"
	OutputModeToolCall    OutputMode = "tool_call"
)

// Verbosity is a reasoning/output verbosity hint. "auto" is the default and
// is elided by normalization.
type Verbosity string

const (
	VerbosityAuto   Verbosity = "auto"
	VerbosityLow    Verbosity = "low"
	VerbosityMedium Verbosity = "medium"
	VerbosityHigh   Verbosity = "high"
)

// Reasoning configures chain-of-thought budget for models that support it.
type Reasoning struct {
	Effort    *string    `json:"effort,omitempty"`
	MaxTokens *int64     `json:"max_tokens,omitempty"`
	Exclude   *bool      `json:"exclude,omitempty"`
	Enabled   *bool      `json:"enabled,omitempty"`
}

func (r *Reasoning) isZero() bool {
	return r.Effort == nil && r.MaxTokens == nil && r.Exclude == nil && r.Enabled == nil
}

// Prepare applies Reasoning's default-elision law: false-valued Exclude or
// Enabled are noise the caller didn't need to set explicitly, so they
// collapse to unset, same as every other default-valued field.
func (r *Reasoning) Prepare() *Reasoning {
	if r == nil {
		return nil
	}
	cp := *r
	if cp.Exclude != nil && !*cp.Exclude {
		cp.Exclude = nil
	}
	if cp.Enabled != nil && !*cp.Enabled {
		cp.Enabled = nil
	}
	if cp.isZero() {
		return nil
	}
	return &cp
}

func (r *Reasoning) Validate() error {
	if r == nil {
		return nil
	}
	if r.MaxTokens != nil && (*r.MaxTokens < 0 || *r.MaxTokens > int64(1<<31-1)) {
		return fieldError("reasoning.max_tokens", "must be between 0 and i32::MAX")
	}
	return nil
}

// Stop is either a single stop string or a list of them.
type Stop struct {
	One  *string
	Many []string
}

func (s *Stop) Prepare() *Stop {
	if s == nil {
		return nil
	}
	if s.Many != nil && len(s.Many) == 0 {
		return nil
	}
	if s.One != nil && *s.One == "" {
		return nil
	}
	return s
}

func (s *Stop) Validate() error {
	if s == nil {
		return nil
	}
	if s.One != nil && *s.One == "" {
		return fieldError("stop", "cannot be an empty string")
	}
	for _, v := range s.Many {
		if v == "" {
			return fieldError("stop", "entries cannot be empty strings")
		}
	}
	return nil
}

func (s Stop) MarshalJSON() ([]byte, error) {
	if s.One != nil {
		return json.Marshal(*s.One)
	}
	return json.Marshal(s.Many)
}

// Message is a prefix/suffix message attached to an Ensemble-LLM.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content,omitempty"`
	Text    *string       `json:"-"` // set after Prepare collapses Content to plain text
}

// ContentPart mirrors the rich-content union (text/image/file/audio).
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *FilePart `json:"file,omitempty"`
	Audio    *AudioPart `json:"input_audio,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type FilePart struct {
	Filename string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
}

type AudioPart struct {
	Data   string `json:"data,omitempty"`
	Format string `json:"format,omitempty"`
}

// MarshalJSON emits the plain-text form when Prepare collapsed this message
// to a single text part, matching the source's RichContent -> PlainText
// collapse (spec §3.6/§4.12).
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if m.Text != nil {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: m.Role, Content: *m.Text})
	}
	return json.Marshal(alias(m))
}

// Prepare applies content normalization in-place: drop empty parts,
// concatenate adjacent text parts, collapse a lone text part to plain text.
func (m *Message) Prepare() {
	parts := make([]normContentPart, 0, len(m.Content))
	for _, p := range m.Content {
		parts = append(parts, normContentPart{part: p})
	}
	merged, text, collapse := normalizeParts(parts)
	if collapse {
		m.Text = &text
		m.Content = nil
		return
	}
	out := make([]ContentPart, 0, len(merged))
	for _, p := range merged {
		out = append(out, p.part)
	}
	m.Content = out
}

// ProviderPreferencesQuantization is a total-ordered enum used to sort
// `provider.quantizations` deterministically before hashing.
type ProviderPreferencesQuantization string

const (
	QuantInt4    ProviderPreferencesQuantization = "int4"
	QuantInt8    ProviderPreferencesQuantization = "int8"
	QuantFp4     ProviderPreferencesQuantization = "fp4"
	QuantFp6     ProviderPreferencesQuantization = "fp6"
	QuantFp8     ProviderPreferencesQuantization = "fp8"
	QuantFp16    ProviderPreferencesQuantization = "fp16"
	QuantBf16    ProviderPreferencesQuantization = "bf16"
	QuantFp32    ProviderPreferencesQuantization = "fp32"
	QuantUnknown ProviderPreferencesQuantization = "unknown"
)

var quantOrder = map[ProviderPreferencesQuantization]int{
	QuantInt4: 0, QuantInt8: 1, QuantFp4: 2, QuantFp6: 3, QuantFp8: 4,
	QuantFp16: 5, QuantBf16: 6, QuantFp32: 7, QuantUnknown: 8,
}

// ProviderPreferences is the routing-preference block an Ensemble-LLM may
// carry. `data_collection`, `zdr`, `sort`, `max_price`, and throughput/
// latency hints are request-scoped and live on the caller's request instead
// (spec §4.3), not here.
type ProviderPreferences struct {
	AllowFallbacks  *bool                             `json:"allow_fallbacks,omitempty"`
	RequireParams   *bool                             `json:"require_parameters,omitempty"`
	Order           []string                          `json:"order,omitempty"`
	Only            []string                          `json:"only,omitempty"`
	Ignore          []string                          `json:"ignore,omitempty"`
	Quantizations   []ProviderPreferencesQuantization `json:"quantizations,omitempty"`
}

func (p *ProviderPreferences) isZero() bool {
	return p.AllowFallbacks == nil && p.RequireParams == nil && p.Order == nil &&
		p.Only == nil && p.Ignore == nil && p.Quantizations == nil
}

func (p *ProviderPreferences) Validate() error {
	if p == nil {
		return nil
	}
	for _, s := range p.Order {
		if s == "" {
			return fieldError("provider.order", "strings cannot be empty")
		}
	}
	for _, s := range p.Only {
		if s == "" {
			return fieldError("provider.only", "strings cannot be empty")
		}
	}
	for _, s := range p.Ignore {
		if s == "" {
			return fieldError("provider.ignore", "strings cannot be empty")
		}
	}
	return nil
}
