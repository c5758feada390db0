// Package httpapi exposes the gateway's three streaming endpoints over
// net/http.ServeMux (spec §6, SPEC_FULL.md §6 "External interfaces").
package httpapi

import (
	"math/rand"
	"net/http"

	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble/fetcher"
	"ensemblegateway/internal/upstream/client"
	"ensemblegateway/internal/upstream/router"
)

// Server wires the gateway's collaborators to its HTTP surface. Its fields
// are opaque per spec §1 Non-goals (auth, credit accounting, definition
// persistence) — Server only depends on the contracts package's shapes.
type Server struct {
	Client    *client.Client
	Transport contracts.UpstreamTransport
	ReqCtx    contracts.RequestContext
	Fetcher   *fetcher.Fetcher
	Source    contracts.DefinitionFetcher
	Ledger    contracts.CreditLedger

	Providers []router.Provider

	mux *http.ServeMux
}

// NewServer builds a Server with every route registered.
func NewServer(s Server) *Server {
	srv := &s
	srv.mux = http.NewServeMux()
	srv.registerRoutes()
	return srv
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("POST /api/v1/vector/completions", s.handleVectorCompletions)
	s.mux.HandleFunc("POST /api/v1/functions/{owner}/{repository}/{commit}/executions", s.handleFunctionExecution)
}

// rng returns a fresh per-request source: pfx's candidate labeling and key
// shuffling need call-scoped randomness, never a shared
// global one that would make concurrent requests interfere (spec §3.2).
func (s *Server) rng() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}
