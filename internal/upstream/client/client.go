// Package client implements UpstreamClient (C4): single-provider SSE
// streaming with per-chunk timeouts, status mapping, and chunk
// accumulation. Grounded on the teacher's hand-rolled SSE scanner
// (internal/llm/openai/client.go's Gemini raw-stream path) generalized to
// the gateway's own chunk/cost-rewrite contract (spec §4.4).
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"ensemblegateway/internal/gwerrors"
	"ensemblegateway/internal/upstream/types"
)

// Timeout bounds from spec §4.4.
const (
	FirstChunkTimeoutMin     = 10 * time.Second
	FirstChunkTimeoutMax     = 120 * time.Second
	FirstChunkTimeoutDefault = 10 * time.Second
	OtherChunkTimeoutMin     = 40 * time.Second
	OtherChunkTimeoutMax     = 120 * time.Second
	OtherChunkTimeoutDefault = 40 * time.Second
)

// ClampFirstChunkTimeout reproduces the source's literal `.min(X).max(Y)`
// clamp order for first_chunk_timeout. This is flagged in spec §9 as
// unproven-correct for all inputs but preserved for compatibility.
func ClampFirstChunkTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = FirstChunkTimeoutDefault
	}
	if d > FirstChunkTimeoutMax {
		d = FirstChunkTimeoutMax
	}
	if d < FirstChunkTimeoutMin {
		d = FirstChunkTimeoutMin
	}
	return d
}

// ClampOtherChunkTimeout clamps other_chunk_timeout to [40s, 120s].
func ClampOtherChunkTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		d = OtherChunkTimeoutDefault
	}
	if d > OtherChunkTimeoutMax {
		d = OtherChunkTimeoutMax
	}
	if d < OtherChunkTimeoutMin {
		d = OtherChunkTimeoutMin
	}
	return d
}

// CostOptions configures the BYOK cost transform (spec §4.4).
type CostOptions struct {
	Multiplier decimal.Decimal
	BYOK       bool
}

// Transform applies `total_cost = (u + uu) * m`; when BYOK, cost is the
// markup above the raw upstream cost and cost_details carries the raw
// figures; otherwise cost is the full total and cost_details is absent.
func (c CostOptions) Transform(upstreamCost decimal.Decimal, upstreamUpstreamCost *decimal.Decimal) (cost, totalCost decimal.Decimal, details *types.CostDetails) {
	u := upstreamCost
	uu := decimal.Zero
	if upstreamUpstreamCost != nil {
		uu = *upstreamUpstreamCost
	}
	totalCost = u.Add(uu).Mul(c.Multiplier)
	if !c.BYOK {
		return totalCost, totalCost, nil
	}
	cost = totalCost.Sub(u.Add(uu))
	details = &types.CostDetails{UpstreamInferenceCost: u}
	if upstreamUpstreamCost != nil {
		details.UpstreamUpstreamInferenceCost = upstreamUpstreamCost
	}
	return cost, totalCost, details
}

// RewriteOptions carries the per-request identifiers UpstreamClient stamps
// onto every rewritten chunk (spec §4.4).
type RewriteOptions struct {
	ResponseID    string
	EnsembleLLMID string
	Cost          CostOptions
}

// Event is one item the stream delivers: either a successfully rewritten
// chunk or a terminal error.
type Event struct {
	Chunk *types.ChatCompletionChunk
	Err   error
}

// Client streams a single provider's chat completion and rewrites each
// chunk into the gateway's downstream shape.
type Client struct {
	HTTP *http.Client
}

// New constructs a Client using httpClient (already instrumented by the
// caller, e.g. observability.NewHTTPClient).
func New(httpClient *http.Client) *Client {
	return &Client{HTTP: httpClient}
}

// Stream issues the request and returns a channel of rewritten chunks. The
// channel is closed after a terminal Event (Err set) or after the [DONE]
// sentinel. first/other chunk timeouts are clamped per spec §4.4.
func (c *Client) Stream(ctx context.Context, endpoint, apiKey string, body *types.ChatCompletionRequest, first, other time.Duration, rw RewriteOptions) (<-chan Event, error) {
	first = ClampFirstChunkTimeout(first)
	other = ClampOtherChunkTimeout(other)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, gwerrors.WithStatus(gwerrors.KindBadStatus, resp.StatusCode, bodyAsJSONOrString(b))
	}

	out := make(chan Event, 4)
	go c.pump(ctx, resp.Body, first, other, rw, out)
	return out, nil
}

func bodyAsJSONOrString(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		return v
	}
	return string(b)
}

// state is the per-stream state machine (spec §4.4): IDLE -> OPEN ->
// STREAMING -> {DONE|ERROR}.
type state int

const (
	stateIdle state = iota
	stateOpen
	stateStreaming
	stateDone
	stateError
)

func (c *Client) pump(ctx context.Context, body io.ReadCloser, first, other time.Duration, rw RewriteOptions, out chan<- Event) {
	defer close(out)
	defer body.Close()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
		}
	}()

	st := stateIdle
	timeout := first

	for {
		select {
		case <-ctx.Done():
			out <- Event{Err: ctx.Err()}
			return
		case err := <-scanErr:
			out <- Event{Err: gwerrors.New(gwerrors.KindStreamError, err.Error())}
			return
		case line, ok := <-lines:
			if !ok {
				// upstream closed the body without a [DONE] sentinel;
				// treat it as a clean end of stream rather than an error.
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				st = stateDone
				return
			}
			if st == stateIdle {
				st = stateOpen
			}
			st = stateStreaming
			timeout = other

			chunk, derr := decodeChunk(data, rw)
			if derr != nil {
				out <- Event{Err: derr}
				st = stateError
				return
			}
			out <- Event{Chunk: chunk}
		case <-time.After(timeout):
			kind := gwerrors.KindStreamTimeout
			out <- Event{Err: gwerrors.New(kind, fmt.Sprintf("no chunk within %s", timeout))}
			return
		}
	}
}

// upstreamChunk is the provider-native shape decoded before rewriting.
type upstreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Object  string `json:"object"`
	Choices []types.Choice `json:"choices"`
	Usage   *upstreamUsage `json:"usage"`
	Provider string        `json:"provider,omitempty"`
}

type upstreamUsage struct {
	CompletionTokens        int64                `json:"completion_tokens"`
	PromptTokens             int64                `json:"prompt_tokens"`
	TotalTokens              int64                `json:"total_tokens"`
	CompletionTokensDetails *types.TokenDetails  `json:"completion_tokens_details,omitempty"`
	PromptTokensDetails     *types.TokenDetails  `json:"prompt_tokens_details,omitempty"`
	Cost                     *decimal.Decimal     `json:"cost,omitempty"`
	UpstreamUpstreamCost    *decimal.Decimal     `json:"upstream_upstream_cost,omitempty"`
}

type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeChunk(data string, rw RewriteOptions) (*types.ChatCompletionChunk, error) {
	var uc upstreamChunk
	if err := json.Unmarshal([]byte(data), &uc); err == nil && len(uc.Choices) > 0 {
		return rewrite(uc, rw), nil
	}

	var pe providerError
	if err := json.Unmarshal([]byte(data), &pe); err == nil && pe.Error.Message != "" {
		return nil, gwerrors.New(gwerrors.KindOpenRouterProviderError, pe.Error.Message)
	}

	log.Debug().Str("data", data).Msg("upstream_chunk_deserialization_failed")
	return nil, gwerrors.New(gwerrors.KindDeserialization, "could not deserialize upstream chunk")
}

func rewrite(uc upstreamChunk, rw RewriteOptions) *types.ChatCompletionChunk {
	out := &types.ChatCompletionChunk{
		ID:            rw.ResponseID,
		UpstreamID:    uc.ID,
		Choices:       uc.Choices,
		Created:       uc.Created,
		Model:         rw.EnsembleLLMID,
		UpstreamModel: uc.Model,
		Object:        "chat.completion.chunk",
		Provider:      uc.Provider,
	}
	if uc.Usage != nil {
		upstreamCost := decimal.Zero
		if uc.Usage.Cost != nil {
			upstreamCost = *uc.Usage.Cost
		}
		cost, totalCost, details := rw.Cost.Transform(upstreamCost, uc.Usage.UpstreamUpstreamCost)
		out.Usage = &types.Usage{
			CompletionTokens:        uc.Usage.CompletionTokens,
			PromptTokens:            uc.Usage.PromptTokens,
			TotalTokens:             uc.Usage.TotalTokens,
			CompletionTokensDetails: uc.Usage.CompletionTokensDetails,
			PromptTokensDetails:     uc.Usage.PromptTokensDetails,
			Cost:                    cost,
			CostDetails:             details,
			TotalCost:               totalCost,
			CostMultiplier:          rw.Cost.Multiplier,
			IsBYOK:                  rw.Cost.BYOK,
		}
	}
	return out
}
