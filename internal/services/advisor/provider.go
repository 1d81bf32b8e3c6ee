// Package advisor implements the optional AI collaborators consulted
// around a submission: success-probability scoring, description rewriting,
// form-field mapping, and failure analysis. Every advisor degrades to "no
// advice" on provider outage; none may block a submission.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/autobolt/internal/common"
)

// Provider generates one completion for one prompt. Both backing services
// implement it; the advisors never care which one they got.
type Provider interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	Close() error
}

// NewProvider creates the configured provider. A missing API key is an
// error; callers treat it as "advisors unavailable", not a fatal one.
func NewProvider(ctx context.Context, config *common.AIConfig, logger arbor.ILogger) (Provider, error) {
	switch config.DefaultProvider {
	case common.LLMProviderGemini:
		return newGeminiProvider(ctx, &config.Gemini, logger)
	case common.LLMProviderClaude, "":
		return newClaudeProvider(&config.Claude, logger)
	default:
		return nil, fmt.Errorf("unknown advisor provider %q", config.DefaultProvider)
	}
}

// claudeProvider backs advisors with the Anthropic API
type claudeProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
	temp      float32
	logger    arbor.ILogger
}

func newClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required (ANTHROPIC_API_KEY or ai.claude.api_key)")
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	p := &claudeProvider{
		client:    anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		model:     config.Model,
		maxTokens: maxTokens,
		temp:      config.Temperature,
		logger:    logger,
	}
	logger.Debug().Str("model", config.Model).Msg("Claude advisor provider initialised")
	return p, nil
}

func (p *claudeProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.temp > 0 {
		params.Temperature = anthropic.Float(float64(p.temp))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude call failed: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("claude returned no text")
	}
	return out.String(), nil
}

func (p *claudeProvider) Close() error {
	return nil
}

// geminiProvider backs advisors with the Gemini API
type geminiProvider struct {
	client *genai.Client
	model  string
	temp   float32
	logger arbor.ILogger
}

func newGeminiProvider(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (GEMINI_API_KEY or ai.gemini.api_key)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	logger.Debug().Str("model", config.Model).Msg("Gemini advisor provider initialised")
	return &geminiProvider{
		client: client,
		model:  config.Model,
		temp:   config.Temperature,
		logger: logger,
	}, nil
}

func (p *geminiProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.temp),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}

	var out strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out.WriteString(part.Text)
				}
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return out.String(), nil
}

func (p *geminiProvider) Close() error {
	p.client = nil
	return nil
}
