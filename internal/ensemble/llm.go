package ensemble

import (
	"encoding/json"
	"sort"

	"ensemblegateway/internal/addressing"
	"ensemblegateway/internal/normalize"
)

// LogitBias maps stringified token IDs to a bias in [-100, 100].
type LogitBias map[string]int64

// Base is the caller-submitted, pre-normalization view of an Ensemble-LLM
// (spec §3.1). Prepare (normalization) and Validate must run, in that
// order, before ID is meaningful — see LLM.
type Base struct {
	Model string `json:"model"`

	OutputMode         OutputMode `json:"output_mode,omitempty"`
	SyntheticReasoning *bool      `json:"synthetic_reasoning,omitempty"`
	TopLogprobs        *int64     `json:"top_logprobs,omitempty"`

	PrefixMessages []Message `json:"prefix_messages,omitempty"`
	SuffixMessages []Message `json:"suffix_messages,omitempty"`

	FrequencyPenalty    *float64             `json:"frequency_penalty,omitempty"`
	LogitBias           LogitBias            `json:"logit_bias,omitempty"`
	MaxCompletionTokens *int64               `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64             `json:"presence_penalty,omitempty"`
	Stop                *Stop                `json:"stop,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`

	MaxTokens          *int64               `json:"max_tokens,omitempty"`
	MinP               *float64             `json:"min_p,omitempty"`
	Provider           *ProviderPreferences `json:"provider,omitempty"`
	Reasoning          *Reasoning           `json:"reasoning,omitempty"`
	RepetitionPenalty  *float64             `json:"repetition_penalty,omitempty"`
	TopA               *float64             `json:"top_a,omitempty"`
	TopK               *int64               `json:"top_k,omitempty"`
	Verbosity          Verbosity            `json:"verbosity,omitempty"`
}

// Prepare normalizes b in place, matching the default-elision and
// collection-sorting laws of spec §3.1/§4.12. Call once, before Validate.
func (b *Base) Prepare() {
	if b.SyntheticReasoning != nil && !*b.SyntheticReasoning {
		b.SyntheticReasoning = nil
	}
	if b.TopLogprobs != nil && (*b.TopLogprobs == 0 || *b.TopLogprobs == 1) {
		b.TopLogprobs = nil
	}
	if len(b.PrefixMessages) == 0 {
		b.PrefixMessages = nil
	} else {
		for i := range b.PrefixMessages {
			b.PrefixMessages[i].Prepare()
		}
	}
	if len(b.SuffixMessages) == 0 {
		b.SuffixMessages = nil
	} else {
		for i := range b.SuffixMessages {
			b.SuffixMessages[i].Prepare()
		}
	}
	if b.FrequencyPenalty != nil && *b.FrequencyPenalty == 0 {
		b.FrequencyPenalty = nil
	}
	if len(b.LogitBias) == 0 {
		b.LogitBias = nil
	} else {
		for k, w := range b.LogitBias {
			if w == 0 {
				delete(b.LogitBias, k)
			}
		}
		if len(b.LogitBias) == 0 {
			b.LogitBias = nil
		}
	}
	if b.MaxCompletionTokens != nil && *b.MaxCompletionTokens == 0 {
		b.MaxCompletionTokens = nil
	}
	if b.PresencePenalty != nil && *b.PresencePenalty == 0 {
		b.PresencePenalty = nil
	}
	b.Stop = b.Stop.Prepare()
	if b.Temperature != nil && *b.Temperature == 1.0 {
		b.Temperature = nil
	}
	if b.TopP != nil && *b.TopP == 1.0 {
		b.TopP = nil
	}
	if b.MaxTokens != nil && *b.MaxTokens == 0 {
		b.MaxTokens = nil
	}
	if b.MinP != nil && *b.MinP == 0 {
		b.MinP = nil
	}
	b.Provider = prepareProvider(b.Provider)
	b.Reasoning = b.Reasoning.Prepare()
	if b.RepetitionPenalty != nil && *b.RepetitionPenalty == 1.0 {
		b.RepetitionPenalty = nil
	}
	if b.TopA != nil && *b.TopA == 0 {
		b.TopA = nil
	}
	if b.TopK != nil && *b.TopK == 0 {
		b.TopK = nil
	}
	if b.Verbosity == VerbosityAuto {
		b.Verbosity = ""
	}
}

func prepareProvider(p *ProviderPreferences) *ProviderPreferences {
	if p == nil {
		return nil
	}
	cp := *p
	if cp.AllowFallbacks != nil && *cp.AllowFallbacks {
		cp.AllowFallbacks = nil
	}
	if cp.RequireParams != nil && !*cp.RequireParams {
		cp.RequireParams = nil
	}
	if len(cp.Order) == 0 {
		cp.Order = nil
	} else {
		cp.Order = normalize.DedupPreserveOrder(cp.Order)
	}
	if len(cp.Only) == 0 {
		cp.Only = nil
	} else {
		cp.Only = normalize.SortedUnique(cp.Only, normalize.StringLess)
	}
	if len(cp.Ignore) == 0 {
		cp.Ignore = nil
	} else {
		cp.Ignore = normalize.SortedUnique(cp.Ignore, normalize.StringLess)
	}
	if len(cp.Quantizations) == 0 {
		cp.Quantizations = nil
	} else {
		cp.Quantizations = normalize.SortedUnique(cp.Quantizations, func(a, b ProviderPreferencesQuantization) bool {
			return quantOrder[a] < quantOrder[b]
		})
	}
	if cp.isZero() {
		return nil
	}
	return &cp
}

// Validate checks every field is within the ranges spec §3.1 names. Run
// after Prepare.
func (b *Base) Validate() error {
	if b.Model == "" {
		return fieldError("model", "string cannot be empty")
	}
	if b.SyntheticReasoning != nil && *b.SyntheticReasoning && b.OutputMode == OutputModeInstruction {
		return fieldError("synthetic_reasoning", "cannot be true when output_mode is \"instruction\"")
	}
	if b.TopLogprobs != nil && *b.TopLogprobs > 20 {
		return fieldError("top_logprobs", "must be at most 20")
	}
	if err := validateRange("frequency_penalty", b.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	for token, weight := range b.LogitBias {
		if token == "" {
			return fieldError("logit_bias", "keys cannot be empty")
		}
		if !isDecimalASCII(token) {
			return fieldError("logit_bias", "keys must be stringified token IDs")
		}
		if token[0] == '0' && len(token) > 1 {
			return fieldError("logit_bias", "keys cannot have leading zeros")
		}
		if weight < -100 || weight > 100 {
			return fieldError("logit_bias", "values must be between -100 and 100")
		}
	}
	if err := validateRangeInt("max_completion_tokens", b.MaxCompletionTokens, 0, 1<<31-1); err != nil {
		return err
	}
	if err := validateRange("presence_penalty", b.PresencePenalty, -2, 2); err != nil {
		return err
	}
	if err := b.Stop.Validate(); err != nil {
		return err
	}
	if err := validateRange("temperature", b.Temperature, 0, 2); err != nil {
		return err
	}
	if err := validateRange("top_p", b.TopP, 0, 1); err != nil {
		return err
	}
	if err := validateRangeInt("max_tokens", b.MaxTokens, 0, 1<<31-1); err != nil {
		return err
	}
	if err := validateRange("min_p", b.MinP, 0, 1); err != nil {
		return err
	}
	if err := b.Provider.Validate(); err != nil {
		return err
	}
	if err := b.Reasoning.Validate(); err != nil {
		return err
	}
	if err := validateRange("repetition_penalty", b.RepetitionPenalty, 0, 2); err != nil {
		return err
	}
	if err := validateRange("top_a", b.TopA, 0, 1); err != nil {
		return err
	}
	if err := validateRangeInt("top_k", b.TopK, 0, 1<<31-1); err != nil {
		return err
	}
	return nil
}

func validateRange(field string, v *float64, min, max float64) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return fieldError(field, rangeMessage(min, max))
	}
	return nil
}

func validateRangeInt(field string, v *int64, min, max int64) error {
	if v == nil {
		return nil
	}
	if *v < min || *v > max {
		return fieldError(field, rangeMessage(float64(min), float64(max)))
	}
	return nil
}

func rangeMessage(min, max float64) string {
	return "must be between " + trimFloat(min) + " and " + trimFloat(max)
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return jsonNum(int64(f))
	}
	return jsonNum(f)
}

func jsonNum(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func isDecimalASCII(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ID computes the content-addressed ID of a normalized, validated Base.
func (b *Base) ID() (string, error) {
	return addressing.ComputeJSON(b)
}

// LLM is a normalized, validated Ensemble-LLM with its computed ID.
type LLM struct {
	ID   string `json:"id"`
	Base Base   `json:"-"`
}

// MarshalJSON flattens Base's fields alongside ID, mirroring the source's
// `#[serde(flatten)]`.
func (l LLM) MarshalJSON() ([]byte, error) {
	baseJSON, err := json.Marshal(l.Base)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(baseJSON, &m); err != nil {
		return nil, err
	}
	idJSON, _ := json.Marshal(l.ID)
	m["id"] = idJSON
	return json.Marshal(m)
}

// NewLLM normalizes, validates, and hashes base into an LLM.
func NewLLM(base Base) (LLM, error) {
	base.Prepare()
	if err := base.Validate(); err != nil {
		return LLM{}, err
	}
	id, err := base.ID()
	if err != nil {
		return LLM{}, err
	}
	return LLM{ID: id, Base: base}, nil
}

// WithFallbacksAndCount wraps a primary LLM definition with fallback
// alternatives and a repetition count (spec §3.1's `(LLM-with-fallbacks,
// count)` ensemble entries).
type WithFallbacksAndCount struct {
	Count     int64
	Inner     LLM
	Fallbacks []LLM
}

// FullID concatenates the primary ID with every fallback ID, in order; this
// is the key Ensemble uses to merge duplicate entries (spec §3.1).
func (w WithFallbacksAndCount) FullID() string {
	full := w.Inner.ID
	for _, fb := range w.Fallbacks {
		full += fb.ID
	}
	return full
}

// IDs iterates the primary ID followed by every fallback's ID.
func (w WithFallbacksAndCount) IDs() []string {
	ids := make([]string, 0, 1+len(w.Fallbacks))
	ids = append(ids, w.Inner.ID)
	for _, fb := range w.Fallbacks {
		ids = append(ids, fb.ID)
	}
	return ids
}

// sortEntriesByFullID sorts a slice of entries by FullID, used before
// Ensemble-ID hashing (spec §3.1: "LLMs are sorted by full-ID before
// ensemble-ID hashing").
func sortEntriesByFullID(entries []WithFallbacksAndCount) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FullID() < entries[j].FullID()
	})
}
