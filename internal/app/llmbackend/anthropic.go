package llmbackend

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/playforge-studio/modelplane/pkg/logger"
)

// AnthropicBackend issues generate calls against hosted Anthropic models.
// The endpoint parameter passed to Generate is the model name (e.g.
// "claude-sonnet-4-5"), not a URL — hosted backends resolve addressing
// through the SDK's client configuration instead of a Config["endpoint"]
// field.
type AnthropicBackend struct {
	client anthropic.Client
	log    *logger.Logger
}

// NewAnthropicBackend constructs a backend authenticated with apiKey.
func NewAnthropicBackend(apiKey string, log *logger.Logger) *AnthropicBackend {
	if log == nil {
		log = logger.NewDefault("llmbackend-anthropic")
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		log:    log,
	}
}

// Generate implements Backend.
func (b *AnthropicBackend) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(endpoint),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	tokensUsed := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	return Response{Text: text, TokensUsed: tokensUsed}, nil
}
