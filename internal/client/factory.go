package client

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a provider. The zero value is not usable;
// at minimum Model must be set.
type Options struct {
	Model           string
	AnthropicAPIKey string
	AnthropicURL    string
	GeminiAPIKey    string
	OllamaURL       string
	Temperature     float32
	MaxOutputTokens int32
	Timeout         time.Duration
	Retry           RetryConfig
}

// New builds the client for the configured model. The provider is inferred
// from the model id: known catalog entries pick their provider, anything
// else is treated as a local Ollama model name.
func New(ctx context.Context, opts Options) (Client, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	provider := "ollama"
	if info, ok := LookupModel(opts.Model); ok {
		provider = info.Provider
	} else if strings.HasPrefix(opts.Model, "gemini-") {
		provider = "gemini"
	} else if strings.HasPrefix(opts.Model, "claude-") {
		provider = "anthropic"
	}

	switch provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:    opts.AnthropicAPIKey,
			BaseURL:   opts.AnthropicURL,
			Model:     opts.Model,
			MaxTokens: int(opts.MaxOutputTokens),
			Timeout:   opts.Timeout,
			Retry:     opts.Retry,
		}), nil

	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:          opts.GeminiAPIKey,
			Model:           opts.Model,
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
			Retry:           opts.Retry,
		})

	default:
		model := opts.Model
		if model == "ollama" {
			return nil, fmt.Errorf("pass a concrete local model name (see 'ollama list')")
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL:     opts.OllamaURL,
			Model:       model,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxOutputTokens,
			HTTPTimeout: opts.Timeout,
			Retry:       opts.Retry,
		})
	}
}
