package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ensemblegateway/internal/contracts"
	"ensemblegateway/internal/ensemble"
	"ensemblegateway/internal/ensemble/fetcher"
	"ensemblegateway/internal/upstream/client"
	"ensemblegateway/internal/upstream/router"
)

type fakeDefinitions struct {
	llm ensemble.LLM
}

func (f fakeDefinitions) FetchEnsembleLLM(ctx context.Context, id string) (ensemble.LLM, []ensemble.LLM, error) {
	return f.llm, nil, nil
}

func (f fakeDefinitions) FetchFunction(ctx context.Context, ref contracts.FunctionRef) (contracts.FunctionDef, error) {
	return nil, fmt.Errorf("not implemented")
}

type fakeReqCtx struct{ key string }

func (f fakeReqCtx) BYOKKey(provider contracts.ProviderKey) (string, bool) { return "", false }
func (f fakeReqCtx) DefaultKey(provider contracts.ProviderKey) (string, bool) {
	return f.key, true
}

type fakeTransport struct{ endpoint string }

func (f fakeTransport) Endpoint(provider contracts.ProviderKey) string { return f.endpoint }

func TestHandleChatCompletionsStreamsUpstreamChunks(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"up-1\",\"model\":\"gpt\",\"created\":1,\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	llm := ensemble.LLM{ID: "llm0000000000000000000", Base: ensemble.Base{Model: "openrouter/gpt"}}
	srv := NewServer(Server{
		Client:    client.New(upstream.Client()),
		Transport: fakeTransport{endpoint: upstream.URL},
		ReqCtx:    fakeReqCtx{key: "sk-test"},
		Fetcher:   fetcher.New(fakeDefinitions{llm: llm}),
		Providers: []router.Provider{{Key: "openrouter", Endpoint: upstream.URL}},
	})

	body := bytes.NewBufferString(`{"model":"llm0000000000000000000","messages":[{"role":"user","content":[{"type":"text","text":"hello"}]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "\"content\":\"hi\"")
	require.True(t, strings.Contains(rec.Body.String(), "[DONE]"))
}
