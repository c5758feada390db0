// Package contracts defines the interfaces this gateway treats as opaque
// external collaborators (spec §1 Non-goals): HTTP transport/auth/credit
// accounting, and Function/Profile/Ensemble persistence. Implementations
// live outside this module's scope; the gateway only depends on these
// shapes.
package contracts

import (
	"context"

	"github.com/shopspring/decimal"

	"ensemblegateway/internal/ensemble"
)

// ProviderKey identifies one upstream provider a request can route to
// (currently always "openrouter", per spec §4.5, but left open for growth).
type ProviderKey string

// RequestContext carries per-request collaborator lookups: BYOK keys and
// the default (system) key for each provider.
type RequestContext interface {
	// BYOKKey returns the caller-supplied key for provider, if any.
	BYOKKey(provider ProviderKey) (string, bool)
	// DefaultKey returns the gateway-operated key for provider.
	DefaultKey(provider ProviderKey) (string, bool)
}

// UpstreamTransport is the opaque HTTP-transport/authentication boundary
// (spec §1 Non-goals) a concrete UpstreamClient is built on top of.
type UpstreamTransport interface {
	Endpoint(provider ProviderKey) string
}

// CreditLedger accounts for and authorizes spend against a caller's
// balance. Failures are fatal-collaborator errors (spec §7.4): surfaced
// directly, never retried.
type CreditLedger interface {
	Authorize(ctx context.Context, estimatedCost decimal.Decimal) error
	Record(ctx context.Context, actualCost decimal.Decimal) error
}

// DefinitionFetcher resolves Function/Profile/Ensemble definitions from
// wherever they are persisted (spec §1 Non-goals: "Function/Profile/
// Ensemble persistence and Git-backed fetching"). EnsembleLlmFetcher (C7)
// and FunctionExecutor (C10) are built against this contract, not a
// concrete store.
type DefinitionFetcher interface {
	FetchEnsembleLLM(ctx context.Context, id string) (ensemble.LLM, []ensemble.LLM, error)
	FetchFunction(ctx context.Context, ref FunctionRef) (FunctionDef, error)
}

// FunctionRef identifies a Function definition (owner/repository/commit, the
// shape the HTTP surface's execution endpoint names — spec §6).
type FunctionRef struct {
	Owner      string
	Repository string
	Commit     string
}

// FunctionDef is the opaque, fetched shape of a Function definition; the
// function/compile and function/exec packages define the concrete fields
// they need (Tasks, InputSchema, Output, etc.) on their own types and this
// contract returns those types directly in practice. It is declared here as
// `any` so this package does not import function/compile and create a
// cycle; callers type-assert to the concrete type they expect.
type FunctionDef = any
