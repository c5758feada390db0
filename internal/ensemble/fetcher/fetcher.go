// Package fetcher implements EnsembleLlmFetcher (C7): a deduplicating,
// coalescing fetch of Ensemble-LLM definitions with a pre-warm hook, built
// against the contracts.DefinitionFetcher boundary (spec §4.7).
package fetcher

import (
	"context"
	"sync"

	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/gwerrors"
)

// Result is one resolved Ensemble-LLM plus its fallback chain, in the order
// the definition declared them.
type Result struct {
	Primary   ensemble.LLM
	Fallbacks []ensemble.LLM
}

// inflight coalesces concurrent callers requesting the same id: the first
// caller performs the fetch, the rest wait on its result.
type inflight struct {
	done chan struct{}
	res  Result
	err  error
}

// Fetcher deduplicates concurrent fetches of the same Ensemble-LLM id and
// caches completed results for the lifetime of the process.
type Fetcher struct {
	source contracts.DefinitionFetcher

	mu     sync.Mutex
	cache  map[string]Result
	flight map[string]*inflight
}

// New builds a Fetcher over source.
func New(source contracts.DefinitionFetcher) *Fetcher {
	return &Fetcher{
		source: source,
		cache:  make(map[string]Result),
		flight: make(map[string]*inflight),
	}
}

// Fetch resolves id, coalescing concurrent requests for the same id into a
// single upstream call and caching the result.
func (f *Fetcher) Fetch(ctx context.Context, id string) (Result, error) {
	f.mu.Lock()
	if r, ok := f.cache[id]; ok {
		f.mu.Unlock()
		return r, nil
	}
	if fl, ok := f.flight[id]; ok {
		f.mu.Unlock()
		<-fl.done
		return fl.res, fl.err
	}

	fl := &inflight{done: make(chan struct{})}
	f.flight[id] = fl
	f.mu.Unlock()

	primary, fallbacks, err := f.source.FetchEnsembleLLM(ctx, id)
	if err != nil {
		fl.err = gwerrors.New(gwerrors.KindFetchEnsembleLlm, err.Error())
	} else {
		fl.res = Result{Primary: primary, Fallbacks: fallbacks}
	}
	close(fl.done)

	f.mu.Lock()
	delete(f.flight, id)
	if fl.err == nil {
		f.cache[id] = fl.res
	}
	f.mu.Unlock()

	return fl.res, fl.err
}

// Prewarm kicks off fetches for ids without waiting on their results,
// letting the cache warm ahead of the requests that will need them (spec
// §4.7's pre-warm hook). Nothing in this module calls it.
func (f *Fetcher) Prewarm(ctx context.Context, ids []string) {
	for _, id := range ids {
		id := id
		go func() {
			_, _ = f.Fetch(ctx, id)
		}()
	}
}

// FetchMany resolves every id in ids, short-circuiting on the first error.
func (f *Fetcher) FetchMany(ctx context.Context, ids []string) ([]Result, error) {
	out := make([]Result, len(ids))
	for i, id := range ids {
		r, err := f.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}
