package candidate

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
)

// AnthropicClient implements LLMClient against the Anthropic API via Fantasy.
type AnthropicClient struct {
	provider fantasy.Provider
	model    string
}

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Required unless Provider is set.
	APIKey string

	// Provider overrides provider construction, mainly for tests.
	Provider fantasy.Provider

	// Model overrides the default model (claude-3-5-haiku-latest).
	Model string
}

// NewAnthropicClient creates an Anthropic-backed client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	provider := cfg.Provider
	if provider == nil {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key not provided")
		}
		p, err := anthropic.New(anthropic.WithAPIKey(cfg.APIKey))
		if err != nil {
			return nil, fmt.Errorf("create anthropic provider: %w", err)
		}
		provider = p
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}

	return &AnthropicClient{
		provider: provider,
		model:    model,
	}, nil
}

// Complete implements LLMClient.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens == 0 {
		maxTokens = 500
	}

	lm, err := c.provider.LanguageModel(ctx, c.model)
	if err != nil {
		return "", fmt.Errorf("get language model: %w", err)
	}

	maxTokens64 := int64(maxTokens)
	call := fantasy.Call{
		Prompt:          fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		MaxOutputTokens: &maxTokens64,
	}

	resp, err := lm.Generate(ctx, call)
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from anthropic")
	}
	return text, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}
