package candidate

import (
	"context"
	"fmt"
	"os"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openrouter"
)

// OpenRouterClient implements LLMClient against OpenRouter via Fantasy, with
// a fallback model when the preferred one is unavailable.
type OpenRouterClient struct {
	provider fantasy.Provider
	model    string
	fallback string
}

// OpenRouterConfig configures the OpenRouter client.
type OpenRouterConfig struct {
	// APIKey is the OpenRouter API key. Falls back to OPENROUTER_API_KEY.
	APIKey string

	// Model is the preferred model ID.
	Model string

	// FallbackModel is used when the preferred model cannot be resolved.
	FallbackModel string
}

// NewOpenRouterClient creates an OpenRouter-backed client.
func NewOpenRouterClient(cfg OpenRouterConfig) (*OpenRouterClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key not provided (set OPENROUTER_API_KEY)")
	}

	provider, err := openrouter.New(openrouter.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create OpenRouter provider: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = "anthropic/claude-haiku-4.5"
	}
	fallback := cfg.FallbackModel
	if fallback == "" {
		fallback = "anthropic/claude-haiku-4.5"
	}

	return &OpenRouterClient{
		provider: provider,
		model:    model,
		fallback: fallback,
	}, nil
}

// Complete implements LLMClient.
func (c *OpenRouterClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens == 0 {
		maxTokens = 500
	}

	lm, err := c.provider.LanguageModel(ctx, c.model)
	if err != nil {
		lm, err = c.provider.LanguageModel(ctx, c.fallback)
		if err != nil {
			return "", fmt.Errorf("get language model: %w", err)
		}
	}

	maxTokens64 := int64(maxTokens)
	call := fantasy.Call{
		Prompt:          fantasy.Prompt{fantasy.NewUserMessage(prompt)},
		MaxOutputTokens: &maxTokens64,
	}

	resp, err := lm.Generate(ctx, call)
	if err != nil {
		return "", fmt.Errorf("openrouter generate: %w", err)
	}

	text := resp.Content.Text()
	if text == "" {
		return "", fmt.Errorf("empty response")
	}
	return text, nil
}

// FromEnv creates the best available client from environment variables,
// preferring OpenRouter over direct Anthropic. The second return value names
// the selected backend for logging.
func FromEnv() (LLMClient, string, error) {
	if os.Getenv("OPENROUTER_API_KEY") != "" {
		client, err := NewOpenRouterClient(OpenRouterConfig{})
		if err == nil {
			return client, "openrouter", nil
		}
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		client, err := NewAnthropicClient(AnthropicConfig{APIKey: apiKey})
		if err != nil {
			return nil, "", fmt.Errorf("create anthropic client: %w", err)
		}
		return client, "anthropic", nil
	}

	return nil, "", fmt.Errorf("no LLM provider available (set OPENROUTER_API_KEY or ANTHROPIC_API_KEY)")
}
