package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"ensemblegateway/internal/addressing"
	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/function/compile"
	"ensemblegateway/internal/function/exec"
	"ensemblegateway/internal/gwerrors"
	"ensemblegateway/internal/upstream/client"
	"ensemblegateway/internal/upstream/prompt"
	"ensemblegateway/internal/upstream/retry"
	"ensemblegateway/internal/upstream/router"
	"ensemblegateway/internal/voting/engine"
)

const (
	defaultFirstChunkTimeout = 15 * time.Second
	defaultOtherChunkTimeout = 30 * time.Second
)

// defaultCostMultiplier is the no-markup passthrough multiplier (spec
// §4.4); a deployment with real billing wires its own value through Deps
// instead of this constant.
var defaultCostMultiplier = decimal.NewFromInt(1)

// chatRequest is the caller-facing body for a plain passthrough completion:
// an Ensemble-LLM id plus the conversation to append around its
// prefix/suffix messages (spec §4.3, SPEC_FULL.md §6).
type chatRequest struct {
	Model    string                       `json:"model"`
	Messages []ensemble.Message           `json:"messages"`
	Provider prompt.RequestProviderFields `json:"provider,omitempty"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.New(gwerrors.KindDeserialization, err.Error()))
		return
	}

	fetched, err := s.Fetcher.Fetch(ctx, req.Model)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	chain := append([]ensemble.LLM{fetched.Primary}, fetched.Fallbacks...)

	sw, err := startSSE(w)
	if err != nil {
		return
	}
	defer sw.close()

	ids := make([]string, len(chain))
	for i := range chain {
		ids[i] = strconv.Itoa(i)
	}
	attempt := func(ctx context.Context, modelID string) error {
		idx, _ := strconv.Atoi(modelID)
		return s.streamSingle(ctx, chain[idx], req.Messages, req.Provider, sw)
	}
	if err := retry.Sweep(ctx, retry.DefaultOptions(), ids, attempt); err != nil {
		sw.writeError(err)
		return
	}
	sw.writeDone()
}

// streamSingle builds the upstream request for one Ensemble-LLM and forwards
// every resulting chunk straight onto the client's SSE stream.
func (s *Server) streamSingle(ctx context.Context, llm ensemble.LLM, messages []ensemble.Message, reqProvider prompt.RequestProviderFields, sw *sseWriter) error {
	body, err := prompt.Build(prompt.Options{LLM: llm.Base, Messages: messages, RequestProvider: reqProvider})
	if err != nil {
		return gwerrors.New(gwerrors.KindChatCompletion, err.Error())
	}
	responseID, err := addressing.ComputeJSON(body)
	if err != nil {
		return gwerrors.New(gwerrors.KindChatCompletion, err.Error())
	}

	rw := client.RewriteOptions{ResponseID: responseID, EnsembleLLMID: llm.ID}
	res, err := router.Route(ctx, s.Client, s.Providers, s.ReqCtx, body, defaultFirstChunkTimeout, defaultOtherChunkTimeout, rw)
	if err != nil {
		return err
	}
	if res == nil {
		return gwerrors.New(gwerrors.KindNoUpstreamsFound, "no provider configured")
	}
	for ev := range res.Stream {
		if ev.Err != nil {
			return ev.Err
		}
		sw.writeJSON(ev.Chunk)
	}
	return nil
}

// vectorRequest is the caller-facing body for an ensemble vote (spec §4.8).
type vectorRequest struct {
	Ensemble  ensemble.Ensemble         `json:"ensemble"`
	Profile   ensemble.Profile         `json:"profile"`
	Messages  []ensemble.Message        `json:"messages"`
	Responses []prompt.Candidate        `json:"responses"`
	Provider  prompt.RequestProviderFields `json:"provider,omitempty"`
}

func (s *Server) handleVectorCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req vectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.New(gwerrors.KindDeserialization, err.Error()))
		return
	}

	sw, err := startSSE(w)
	if err != nil {
		return
	}
	defer sw.close()

	deps := engine.Deps{
		Client:            s.Client,
		Transport:         s.Transport,
		ReqCtx:            s.ReqCtx,
		FirstChunkTimeout: defaultFirstChunkTimeout,
		OtherChunkTimeout: defaultOtherChunkTimeout,
		CostMultiplier:    defaultCostMultiplier,
	}
	out, err := engine.Run(ctx, deps, s.rng(), req.Ensemble, req.Profile, req.Messages, req.Responses, req.Provider)
	if err != nil {
		sw.writeError(err)
		return
	}

	ensembleID := req.Ensemble.ID
	sw.writeJSON(map[string]any{
		"id":         ensembleID,
		"votes":      out.Votes,
		"scores":     out.Scores,
		"weights":    out.Weights,
		"ensemble":   ensembleID,
		"object":     "vector.completion.chunk",
	})
	sw.writeDone()
}

func (s *Server) handleFunctionExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref := contracts.FunctionRef{
		Owner:      r.PathValue("owner"),
		Repository: r.PathValue("repository"),
		Commit:     r.PathValue("commit"),
	}

	var body struct {
		Input    any              `json:"input"`
		Ensemble ensemble.Ensemble `json:"ensemble"`
		Profile  ensemble.Profile `json:"profile"`
		Provider prompt.RequestProviderFields `json:"provider,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeGatewayError(w, gwerrors.New(gwerrors.KindDeserialization, err.Error()))
		return
	}

	def, err := s.Source.FetchFunction(ctx, ref)
	if err != nil {
		writeGatewayError(w, gwerrors.New(gwerrors.KindFunctionNotFound, err.Error()))
		return
	}
	fn, ok := def.(compile.Function)
	if !ok {
		writeGatewayError(w, gwerrors.New(gwerrors.KindFunctionNotFound, "fetched definition is not a compiled function"))
		return
	}

	sw, err := startSSE(w)
	if err != nil {
		return
	}
	defer sw.close()

	deps := exec.Deps{
		Engine: engine.Deps{
			Client:            s.Client,
			Transport:         s.Transport,
			ReqCtx:            s.ReqCtx,
			FirstChunkTimeout: defaultFirstChunkTimeout,
			OtherChunkTimeout: defaultOtherChunkTimeout,
			CostMultiplier:    defaultCostMultiplier,
		},
		Fetcher:     s.Source,
		Ensemble:    body.Ensemble,
		Profile:     body.Profile,
		ReqProvider: body.Provider,
	}

	chunks := make(chan exec.Chunk, 8)
	go func() {
		for c := range chunks {
			sw.writeJSON(c)
		}
	}()
	if _, err := exec.Run(ctx, deps, s.rng(), fn, body.Input, chunks); err != nil {
		writeGatewayErrorValue(sw, err)
		return
	}
	sw.writeDone()
}

// sseWriter serializes gateway chunks as SSE `data:` lines and flushes after
// each one, matching the teacher's chunked-streaming-handler style.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	bw      *bufio.Writer
}

func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("httpapi: response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher, bw: bufio.NewWriter(w)}, nil
}

func (s *sseWriter) writeJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = s.bw.WriteString("data: ")
	_, _ = s.bw.Write(b)
	_, _ = s.bw.WriteString("\n\n")
	_ = s.bw.Flush()
	s.flusher.Flush()
}

func (s *sseWriter) writeError(err error) {
	s.writeJSON(asWireError(err))
}

func (s *sseWriter) writeDone() {
	_, _ = s.bw.WriteString("data: [DONE]\n\n")
	_ = s.bw.Flush()
	s.flusher.Flush()
}

func (s *sseWriter) close() {}

// writeGatewayError responds with the wire error shape (spec §6.4) before
// any SSE headers have been sent.
func writeGatewayError(w http.ResponseWriter, err error) {
	ge := asWireError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ge.Status)
	_ = json.NewEncoder(w).Encode(ge)
}

// writeGatewayErrorValue reports a fatal error mid-stream, once SSE headers
// are already committed.
func writeGatewayErrorValue(sw *sseWriter, err error) {
	sw.writeError(err)
}

func asWireError(err error) *gwerrors.Error {
	var ge *gwerrors.Error
	if errors.As(err, &ge) {
		return ge
	}
	return gwerrors.New(gwerrors.KindChatCompletion, err.Error())
}
