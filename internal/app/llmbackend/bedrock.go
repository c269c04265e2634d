package llmbackend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/playforge-studio/modelplane/pkg/logger"
)

// BedrockBackend issues generate calls against hosted models served
// through Amazon Bedrock. The endpoint parameter is the Bedrock model ID
// (e.g. "anthropic.claude-3-sonnet-20240229-v1:0").
type BedrockBackend struct {
	client *bedrockruntime.Client
	log    *logger.Logger
}

// NewBedrockBackend constructs a backend over an already-configured
// Bedrock runtime client (region/credentials resolved by the caller via
// aws-sdk-go-v2/config).
func NewBedrockBackend(client *bedrockruntime.Client, log *logger.Logger) *BedrockBackend {
	if log == nil {
		log = logger.NewDefault("llmbackend-bedrock")
	}
	return &BedrockBackend{client: client, log: log}
}

type bedrockInvokeBody struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens_to_sample"`
	Temperature float64 `json:"temperature"`
}

type bedrockInvokeResult struct {
	Completion string `json:"completion"`
	StopReason string `json:"stop_reason"`
}

// Generate implements Backend.
func (b *BedrockBackend) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	payload, err := json.Marshal(bedrockInvokeBody{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode bedrock invoke body: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(endpoint),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return Response{}, fmt.Errorf("bedrock invoke model: %w", err)
	}

	var parsed bedrockInvokeResult
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode bedrock response: %w", err)
	}

	tokensUsed := estimateTokens(req.Prompt) + estimateTokens(parsed.Completion)
	return Response{Text: parsed.Completion, TokensUsed: tokensUsed}, nil
}

// estimateTokens approximates token count from character length when
// Bedrock's response doesn't carry a usage field, matching the rough
// 4-chars-per-token heuristic used elsewhere in the corpus for
// advisory-only metrics.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
