// Package llmbackend implements the transport layer the LLM Client (C5)
// dispatches generate calls through: one Backend implementation per
// inference engine family (hosted Anthropic, hosted Bedrock, generic HTTP
// endpoints, and the self-hosted SRL adapter path).
package llmbackend

import "context"

// Request is the backend-agnostic generate request.
type Request struct {
	Prompt      string
	Context     map[string]interface{}
	MaxTokens   int
	Temperature float64
}

// Response is the backend-agnostic generate result.
type Response struct {
	Text       string
	TokensUsed int
}

// Backend issues one generate call against a specific model endpoint. The
// LLM Client wraps every call in a per-backend circuit breaker and retry
// policy; Backend implementations themselves stay free of that concern.
type Backend interface {
	Generate(ctx context.Context, endpoint string, req Request) (Response, error)
}
