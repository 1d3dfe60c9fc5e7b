package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vocalnews/assistant/internal/apperr"
)

const (
	DefaultBaseURL = "https://api.elevenlabs.io"
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID = "eleven_multilingual_v2"

	opSynthesize = "synthesize"
	maxAudioSize = 20 * 1024 * 1024
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

// ElevenLabs streams MPEG audio from the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
	client  *http.Client
}

func NewElevenLabs(cfg Config) *ElevenLabs {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ElevenLabs{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(defaultIfEmpty(cfg.BaseURL, DefaultBaseURL), "/"),
		voiceID: defaultIfEmpty(cfg.VoiceID, DefaultVoiceID),
		modelID: defaultIfEmpty(cfg.ModelID, DefaultModelID),
		client:  &http.Client{Timeout: timeout},
	}
}

// Synthesize returns the audio stream. The caller must close it.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.MalformedInput, opSynthesize, errors.New("no text provided"))
	}
	if e.apiKey == "" {
		return nil, apperr.New(apperr.UpstreamRejection, opSynthesize, errors.New("missing ElevenLabs API key"))
	}
	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": e.modelID,
	})
	if err != nil {
		return nil, apperr.New(apperr.MalformedInput, opSynthesize, err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", e.baseURL, url.PathEscape(e.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.New(apperr.MalformedInput, opSynthesize, err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.NetworkFailure, opSynthesize, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, apperr.Newf(apperr.UpstreamRejection, opSynthesize, "status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}
	return resp.Body, nil
}

// Collect drains a synthesized stream into memory. Streams larger than
// 20 MiB are rejected rather than truncated.
func Collect(ctx context.Context, s Synthesizer, text string) ([]byte, error) {
	return collect(ctx, s, text, maxAudioSize)
}

func collect(ctx context.Context, s Synthesizer, text string, limit int64) ([]byte, error) {
	stream, err := s.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	audio, err := io.ReadAll(io.LimitReader(stream, limit+1))
	if err != nil {
		return nil, apperr.New(apperr.NetworkFailure, opSynthesize, err)
	}
	if int64(len(audio)) > limit {
		return nil, apperr.Newf(apperr.UpstreamRejection, opSynthesize, "audio exceeds %d bytes", limit)
	}
	if len(audio) == 0 {
		return nil, apperr.New(apperr.EmptyResult, opSynthesize, errors.New("no audio data generated"))
	}
	return audio, nil
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
