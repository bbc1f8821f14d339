// Package llm adapts hosted language models to the worker TextGenerator.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// DefaultMaxTokens is used when neither the request nor the config sets one
const DefaultMaxTokens = 8192

// Config selects and configures one provider
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	MaxTokens int
	// ThinkingBudget is the token budget for extended thinking requests
	ThinkingBudget int
	// Prices per million tokens, used for cost_usd
	InputPricePerMTok  float64
	OutputPricePerMTok float64
}

// Generator is the provider-agnostic text generator
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Generation, error)
}

// New creates the generator named by cfg.Provider
func New(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicGenerator(cfg), nil
	case ProviderGemini, "":
		return NewGeminiGenerator(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func (c Config) maxTokens(req domain.GenerateRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}

func (c Config) cost(in, out int64) float64 {
	return float64(in)*c.InputPricePerMTok/1e6 + float64(out)*c.OutputPricePerMTok/1e6
}

// classify maps a provider HTTP status onto the retry taxonomy
func classify(status int, err error) error {
	switch {
	case status == 0, status == http.StatusTooManyRequests, status >= 500:
		return domain.NewRetryableError(err)
	case status >= 400:
		return domain.NonRetryable(err.Error())
	default:
		return err
	}
}
