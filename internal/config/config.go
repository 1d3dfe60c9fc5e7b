package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Port    string `validate:"required,numeric"`
	BaseURL string `validate:"required,url"`

	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=text json"`

	StoreBackend string `validate:"oneof=memory postgres sqlite"`
	PostgresURL  string `validate:"required_if=StoreBackend postgres"`
	SQLitePath   string `validate:"required_if=StoreBackend sqlite"`

	LLMModel            string
	OpenAIAPIKey        string
	OpenRouterAPIKey    string
	LLMProvider         string        `validate:"oneof=openai openrouter local"`
	LLMBaseURL          string        `validate:"omitempty,url"`
	LLMTimeout          time.Duration `validate:"gt=0"`
	LLMTemperature      float64       `validate:"gte=0,lte=2"`
	LLMMaxTokens        int           `validate:"gt=0"`
	LLMTopP             float64       `validate:"gte=0,lte=1"`
	LLMFrequencyPenalty float64       `validate:"gte=-2,lte=2"`
	LLMPresencePenalty  float64       `validate:"gte=-2,lte=2"`

	SearchAPIKey  string
	SearchBaseURL string        `validate:"required,url"`
	SearchEngine  string        `validate:"required"`
	SearchTimeout time.Duration `validate:"gt=0"`

	ScraperTimeout   time.Duration `validate:"gt=0"`
	ScraperUserAgent string        `validate:"required"`
	ScraperExtractor string        `validate:"oneof=text markdown"`
	ScraperCleaner   string        `validate:"oneof=regex stopword"`

	NewsSummarize        bool
	NewsMaxArticles      int `validate:"gt=0,lte=20"`
	NewsConcurrency      int `validate:"gt=0"`
	NewsSummarySentences int `validate:"gt=0"`

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string        `validate:"required,url"`
	VoiceID           string        `validate:"required"`
	VoiceModelID      string        `validate:"required"`
	SpeechTimeout     time.Duration `validate:"gt=0"`

	AudioDir       string
	PromptsDir     string
	QueryLimit     int           `validate:"gte=0"`
	RefreshAfter   time.Duration `validate:"gt=0"`
	HistoryWindow  int           `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
}

func Load() Config {
	port := getEnv("PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port:    port,
		BaseURL: getEnv("BASE_URL", "http://localhost:"+port),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		PostgresURL:  postgresURL,
		SQLitePath:   getEnv("SQLITE_PATH", "assistant.db"),

		LLMProvider:         strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:            getEnv("LLM_MODEL", ""),
		LLMBaseURL:          getEnv("LLM_BASE_URL", ""),
		LLMTimeout:          getEnvDuration("LLM_TIMEOUT", 35*time.Second),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenRouterAPIKey:    getEnv("OPENROUTER_API_KEY", ""),
		LLMTemperature:      getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMMaxTokens:        getEnvInt("LLM_MAX_TOKENS", 100),
		LLMTopP:             getEnvFloat("LLM_TOP_P", 0.9),
		LLMFrequencyPenalty: getEnvFloat("LLM_FREQUENCY_PENALTY", 0.5),
		LLMPresencePenalty:  getEnvFloat("LLM_PRESENCE_PENALTY", 0.5),

		SearchAPIKey:  getEnv("SERPAPI_API_KEY", ""),
		SearchBaseURL: getEnv("SEARCH_BASE_URL", "https://serpapi.com"),
		SearchEngine:  getEnv("SEARCH_ENGINE", "google_news"),
		SearchTimeout: getEnvDuration("SEARCH_TIMEOUT", 15*time.Second),

		ScraperTimeout:   getEnvDuration("SCRAPER_TIMEOUT", 10*time.Second),
		ScraperUserAgent: getEnv("SCRAPER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"),
		ScraperExtractor: strings.ToLower(getEnv("SCRAPER_EXTRACTOR", "text")),
		ScraperCleaner:   strings.ToLower(getEnv("SCRAPER_CLEANER", "regex")),

		NewsMaxArticles:      getEnvInt("NEWS_MAX_ARTICLES", 5),
		NewsConcurrency:      getEnvInt("NEWS_CONCURRENCY", 5),
		NewsSummarize:        getEnvBool("NEWS_SUMMARIZE", false),
		NewsSummarySentences: getEnvInt("NEWS_SUMMARY_SENTENCES", 5),

		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		VoiceID:           getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		VoiceModelID:      getEnv("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		SpeechTimeout:     getEnvDuration("SPEECH_TIMEOUT", 30*time.Second),

		AudioDir:       getEnv("AUDIO_DIR", ""),
		PromptsDir:     getEnv("PROMPTS_DIR", ""),
		QueryLimit:     getEnvInt("QUERY_LIMIT", 10),
		RefreshAfter:   getEnvDuration("CONTEXT_REFRESH_INTERVAL", 10*time.Minute),
		HistoryWindow:  getEnvInt("HISTORY_WINDOW", 4),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 90*time.Second),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field in one error.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "assistant")
	password := getEnv("POSTGRES_PASSWORD", "assistant")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "assistant")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
