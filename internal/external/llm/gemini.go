package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// GeminiGenerator calls the Gemini API through genai
type GeminiGenerator struct {
	client *genai.Client
	cfg    Config
}

// NewGeminiGenerator creates a new GeminiGenerator. A non-empty baseURL
// overrides the API endpoint.
func NewGeminiGenerator(ctx context.Context, cfg Config, baseURL ...string) (*GeminiGenerator, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if len(baseURL) > 0 && baseURL[0] != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL[0]}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	return &GeminiGenerator{client: client, cfg: cfg}, nil
}

// Generate runs one content generation with the system instruction
func (g *GeminiGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Generation, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.cfg.maxTokens(req)),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Thinking {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: genai.ThinkingLevelHigh}
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, classify(apiErr.Code, fmt.Errorf("gemini %s: %w", req.Task, err))
		}
		return nil, domain.NewRetryableError(fmt.Errorf("gemini %s: %w", req.Task, err))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Text() == "" {
		return nil, domain.NewRetryableError(fmt.Errorf("empty response from gemini"))
	}

	var in, out int64
	if resp.UsageMetadata != nil {
		in = int64(resp.UsageMetadata.PromptTokenCount)
		out = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	model := g.cfg.Model
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}
	return &domain.Generation{
		Text:      resp.Text(),
		ModelID:   model,
		Provider:  ProviderGemini,
		TokensIn:  in,
		TokensOut: out,
		CostUSD:   g.cfg.cost(in, out),
	}, nil
}
