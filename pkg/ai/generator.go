package ai

import (
	"context"
	"fmt"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// Every provider (Gemini, Ollama, OpenAI-compatible, Anthropic) implements it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const (
	ProviderGemini       = "gemini"
	ProviderOllama       = "ollama"
	ProviderOpenAICompat = "openai-compat"
	ProviderAnthropic    = "anthropic"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// NewTextGenerator builds the TextGenerator for cfg.Provider.
func NewTextGenerator(cfg Config) (TextGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("generation model required for provider %q", provider)
	}
	switch provider {
	case ProviderGemini:
		return NewGeminiGenerator(cfg.BaseURL, cfg.APIKey, model)
	case ProviderOllama:
		return NewOllamaGenerator(cfg.BaseURL, model), nil
	case ProviderOpenAICompat:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, model), nil
	case ProviderAnthropic:
		return NewAnthropicGenerator(cfg.BaseURL, cfg.APIKey, model)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// UpstreamError is returned when a provider answers with an HTTP error.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error: status %d", e.Provider, e.StatusCode)
}
