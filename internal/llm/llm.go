package llm

import (
	"context"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Sampling is sent with every completion request.
type Sampling struct {
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
}

// DefaultSampling keeps spoken replies short.
func DefaultSampling() Sampling {
	return Sampling{
		Temperature:      0.7,
		MaxTokens:        100,
		TopP:             0.9,
		FrequencyPenalty: 0.5,
		PresencePenalty:  0.5,
	}
}

const DefaultModel = "gpt-3.5-turbo"

type Config struct {
	Provider         string
	Model            string
	BaseURL          string
	OpenAIAPIKey     string
	OpenRouterAPIKey string
	Timeout          time.Duration
	Sampling         Sampling
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "local":
		return LocalProvider{}, nil
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:   cfg.OpenAIAPIKey,
			Model:    defaultIfEmpty(cfg.Model, DefaultModel),
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.Timeout,
			Sampling: cfg.Sampling,
		}), nil
	case "openrouter":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:   cfg.OpenRouterAPIKey,
			Model:    defaultIfEmpty(cfg.Model, "openai/"+DefaultModel),
			BaseURL:  defaultIfEmpty(cfg.BaseURL, "https://openrouter.ai/api/v1"),
			Timeout:  cfg.Timeout,
			Sampling: cfg.Sampling,
		}), nil
	default:
		return nil, ErrUnsupportedProvider{Provider: cfg.Provider}
	}
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
