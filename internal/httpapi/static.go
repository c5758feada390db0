package httpapi

import (
	"context"
	"errors"

	"ensemblegateway/internal/config"
	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/upstream/router"
)

// StaticTransport resolves each provider's base URL from operator
// configuration (spec §1 Non-goals: auth/transport wiring is this
// gateway's own concern, not the upstream protocol's).
type StaticTransport struct {
	endpoints map[contracts.ProviderKey]string
}

// NewStaticTransport builds a StaticTransport from the loaded provider list.
func NewStaticTransport(providers []config.ProviderConfig) StaticTransport {
	m := make(map[contracts.ProviderKey]string, len(providers))
	for _, p := range providers {
		m[contracts.ProviderKey(p.Name)] = p.BaseURL + "/chat/completions"
	}
	return StaticTransport{endpoints: m}
}

func (t StaticTransport) Endpoint(provider contracts.ProviderKey) string {
	return t.endpoints[provider]
}

// StaticRequestContext serves the operator's default (non-BYOK) API keys
// from configuration. BYOK keys are always absent here — a deployment that
// accepts caller-supplied keys plugs in its own RequestContext instead.
type StaticRequestContext struct {
	defaults map[contracts.ProviderKey]string
}

// NewStaticRequestContext builds a StaticRequestContext from the loaded
// provider list.
func NewStaticRequestContext(providers []config.ProviderConfig) StaticRequestContext {
	m := make(map[contracts.ProviderKey]string, len(providers))
	for _, p := range providers {
		m[contracts.ProviderKey(p.Name)] = p.APIKey
	}
	return StaticRequestContext{defaults: m}
}

func (c StaticRequestContext) BYOKKey(provider contracts.ProviderKey) (string, bool) {
	return "", false
}

func (c StaticRequestContext) DefaultKey(provider contracts.ProviderKey) (string, bool) {
	key, ok := c.defaults[provider]
	return key, ok && key != ""
}

// UnimplementedDefinitionFetcher is a placeholder contracts.DefinitionFetcher
// for deployments that have not yet wired a Function/Ensemble/Profile store
// (spec §1 Non-goals: persistence and Git-backed fetching are explicitly out
// of this gateway's scope — every concrete store is a caller-supplied
// collaborator).
type UnimplementedDefinitionFetcher struct{}

func (UnimplementedDefinitionFetcher) FetchEnsembleLLM(ctx context.Context, id string) (ensemble.LLM, []ensemble.LLM, error) {
	return ensemble.LLM{}, nil, errors.New("httpapi: no Ensemble-LLM store configured")
}

func (UnimplementedDefinitionFetcher) FetchFunction(ctx context.Context, ref contracts.FunctionRef) (contracts.FunctionDef, error) {
	return nil, errors.New("httpapi: no Function store configured")
}

// ProvidersFromConfig builds the router.Provider list NewServer needs from
// operator configuration.
func ProvidersFromConfig(providers []config.ProviderConfig, transport StaticTransport) []router.Provider {
	out := make([]router.Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, router.Provider{Key: contracts.ProviderKey(p.Name), Endpoint: transport.Endpoint(contracts.ProviderKey(p.Name))})
	}
	return out
}
