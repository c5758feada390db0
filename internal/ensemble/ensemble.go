package ensemble

import (
	"errors"

	"ensemblegateway/internal/addressing"
)

// MinCount and MaxCount bound an Ensemble's total multiplicity (spec §3.1).
const (
	MinCount = 1
	MaxCount = 128
)

// Ensemble is a multiset of (LLM-with-fallbacks, count) entries, itself
// content-addressed.
type Ensemble struct {
	ID      string                  `json:"id"`
	Entries []WithFallbacksAndCount `json:"entries"`
}

// entryWire is the canonical JSON shape hashed for an ensemble entry: the
// full fallback chain's IDs plus its count, nothing else — the entries
// themselves are already content-addressed, so the ensemble need not
// re-serialize their bodies.
type entryWire struct {
	IDs   []string `json:"ids"`
	Count int64    `json:"count"`
}

// NewEnsemble merges duplicate entries (matched by FullID) by summing
// counts, sorts by FullID, validates total count is within [MinCount,
// MaxCount], and computes the ensemble's ID.
func NewEnsemble(entries []WithFallbacksAndCount) (Ensemble, error) {
	merged := make(map[string]*WithFallbacksAndCount, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		key := e.FullID()
		if existing, ok := merged[key]; ok {
			existing.Count += e.Count
			continue
		}
		cp := e
		merged[key] = &cp
		order = append(order, key)
	}
	deduped := make([]WithFallbacksAndCount, 0, len(order))
	total := int64(0)
	for _, key := range order {
		deduped = append(deduped, *merged[key])
		total += merged[key].Count
	}
	sortEntriesByFullID(deduped)

	if total < MinCount || total > MaxCount {
		return Ensemble{}, errors.New("ensemble total count must be between 1 and 128")
	}

	wire := make([]entryWire, 0, len(deduped))
	for _, e := range deduped {
		wire = append(wire, entryWire{IDs: e.IDs(), Count: e.Count})
	}
	id, err := addressing.ComputeJSON(wire)
	if err != nil {
		return Ensemble{}, err
	}
	return Ensemble{ID: id, Entries: deduped}, nil
}

// Flatten expands every entry into Count independent slots, returning each
// slot's (ensemble_index, flat_index, llm-with-fallbacks) — the shape
// VectorVotingEngine (C8) fans out over (spec §4.8 step 1).
type Slot struct {
	EnsembleIndex int
	FlatIndex     int
	LLM           WithFallbacksAndCount
}

func (e Ensemble) Flatten() []Slot {
	slots := make([]Slot, 0, MaxCount)
	flat := 0
	for ei, entry := range e.Entries {
		for c := int64(0); c < entry.Count; c++ {
			slots = append(slots, Slot{EnsembleIndex: ei, FlatIndex: flat, LLM: entry})
			flat++
		}
	}
	return slots
}

// Count returns the ensemble's total flattened slot count.
func (e Ensemble) Count() int {
	total := 0
	for _, entry := range e.Entries {
		total += int(entry.Count)
	}
	return total
}
