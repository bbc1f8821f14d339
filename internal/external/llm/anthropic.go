package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// AnthropicGenerator calls the Messages API
type AnthropicGenerator struct {
	client anthropic.Client
	cfg    Config
}

// NewAnthropicGenerator creates a new AnthropicGenerator. Extra options are
// appended after the API key, so tests can point it at a local server.
func NewAnthropicGenerator(cfg Config, opts ...option.RequestOption) *AnthropicGenerator {
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicGenerator{client: anthropic.NewClient(opts...), cfg: cfg}
}

// Generate sends one user message with the system prompt
func (g *AnthropicGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Generation, error) {
	maxTokens := g.cfg.maxTokens(req)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Thinking && g.cfg.ThinkingBudget >= 1024 && g.cfg.ThinkingBudget < maxTokens {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(g.cfg.ThinkingBudget))
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, classify(apiErr.StatusCode, fmt.Errorf("anthropic %s: %w", req.Task, err))
		}
		return nil, domain.NewRetryableError(fmt.Errorf("anthropic %s: %w", req.Task, err))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, domain.NewRetryableError(fmt.Errorf("empty response from anthropic"))
	}

	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	return &domain.Generation{
		Text:      text.String(),
		ModelID:   string(resp.Model),
		Provider:  ProviderAnthropic,
		TokensIn:  in,
		TokensOut: out,
		CostUSD:   g.cfg.cost(in, out),
	}, nil
}
