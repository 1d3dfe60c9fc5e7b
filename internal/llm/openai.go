package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vocalnews/assistant/internal/apperr"
)

const opGenerate = "generate"

type OpenAIConfig struct {
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
	Sampling Sampling
}

// OpenAIProvider calls any OpenAI compatible /chat/completions endpoint. Each
// Generate is a single attempt.
type OpenAIProvider struct {
	apiKey   string
	model    string
	baseURL  string
	sampling Sampling
	client   *http.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	sampling := cfg.Sampling
	if sampling == (Sampling{}) {
		sampling = DefaultSampling()
	}
	return &OpenAIProvider{
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		baseURL:  strings.TrimRight(baseURL, "/"),
		sampling: sampling,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Sampling
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	if p.apiKey == "" {
		return "", apperr.New(apperr.UpstreamRejection, opGenerate, errors.New("missing API key for remote provider"))
	}
	if p.model == "" {
		return "", apperr.New(apperr.MalformedInput, opGenerate, errors.New("missing model for remote provider"))
	}
	if len(messages) == 0 {
		return "", apperr.New(apperr.MalformedInput, opGenerate, errors.New("no messages to send"))
	}
	body, err := json.Marshal(chatRequest{Model: p.model, Messages: messages, Sampling: p.sampling})
	if err != nil {
		return "", apperr.New(apperr.MalformedInput, opGenerate, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperr.New(apperr.MalformedInput, opGenerate, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", apperr.New(apperr.NetworkFailure, opGenerate, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp)
	}

	var parsed struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperr.New(apperr.MalformedInput, opGenerate, fmt.Errorf("decode LLM response: %w", err))
	}
	if parsed.Error != nil {
		return "", apperr.New(apperr.UpstreamRejection, opGenerate, fmt.Errorf("LLM error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", apperr.New(apperr.EmptyResult, opGenerate, errors.New("LLM response had no choices"))
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.New(apperr.EmptyResult, opGenerate, errors.New("LLM response was empty"))
	}
	return content, nil
}
