package llmbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/playforge-studio/modelplane/pkg/logger"
)

const defaultHTTPBackendBodyLimit = int64(4 << 20)

// HTTPBackend issues generate calls against the out-of-scope inference
// engines' `generate(prompt, context, max_tokens, temperature) →
// {text, tokens_used}` contract (spec.md's "Out of scope" note) over plain
// HTTP. Grounded on the teacher's oracle/resolver_http.go request/response
// shape, adapted to this domain's generate payload instead of an oracle
// data-source fetch.
type HTTPBackend struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPBackend constructs an HTTPBackend. client defaults to one with a
// 30s timeout, matching the LLM Client's generate-call deadline.
func NewHTTPBackend(client *http.Client, log *logger.Logger) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("llmbackend-http")
	}
	return &HTTPBackend{client: client, log: log}
}

type generateRequestBody struct {
	Prompt      string                 `json:"prompt"`
	Context     map[string]interface{} `json:"context,omitempty"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature float64                `json:"temperature"`
}

type generateResponseBody struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	payload, err := json.Marshal(generateRequestBody{
		Prompt:      req.Prompt,
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("execute generate request: %w", err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, defaultHTTPBackendBodyLimit)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return Response{}, fmt.Errorf("read generate response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("inference engine returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed generateResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode generate response: %w", err)
	}
	return Response{Text: parsed.Text, TokensUsed: parsed.TokensUsed}, nil
}

// SRLAdapterBackend is a transport for a self-hosted SRL adapter executor
// with the same generate contract as HTTPBackend. It forwards every call to
// the wrapped HTTPBackend unchanged: it adds no path segment to the
// endpoint and sends no adapter header (adapterHeader is set but not used).
type SRLAdapterBackend struct {
	http           *HTTPBackend
	adapterHeader  string
}

// NewSRLAdapterBackend constructs an adapter-routing backend over an
// existing HTTPBackend transport.
func NewSRLAdapterBackend(http *HTTPBackend) *SRLAdapterBackend {
	return &SRLAdapterBackend{http: http, adapterHeader: "X-SRL-Adapter"}
}

// Generate implements Backend by passing endpoint and req straight to the
// wrapped HTTPBackend, so endpoint is the executor's full generate URL.
func (b *SRLAdapterBackend) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	return b.http.Generate(ctx, endpoint, req)
}
