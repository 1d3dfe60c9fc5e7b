package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vocalnews/assistant/internal/agent"
	"github.com/vocalnews/assistant/internal/api"
	"github.com/vocalnews/assistant/internal/audio"
	"github.com/vocalnews/assistant/internal/config"
	"github.com/vocalnews/assistant/internal/conversation"
	"github.com/vocalnews/assistant/internal/events"
	"github.com/vocalnews/assistant/internal/llm"
	"github.com/vocalnews/assistant/internal/logging"
	"github.com/vocalnews/assistant/internal/news"
	"github.com/vocalnews/assistant/internal/scraper"
	"github.com/vocalnews/assistant/internal/search"
	"github.com/vocalnews/assistant/internal/speech"
	"github.com/vocalnews/assistant/internal/store"
	"github.com/vocalnews/assistant/internal/store/memory"
	"github.com/vocalnews/assistant/internal/store/postgres"
	"github.com/vocalnews/assistant/internal/store/sqlite"
	"github.com/vocalnews/assistant/internal/summarizer"
	"github.com/vocalnews/assistant/internal/textclean"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var logOutput io.Writer = os.Stderr

var (
	loadConfig = func() (config.Config, error) {
		cfg := config.Load()
		return cfg, config.Validate(cfg)
	}
	openStore   = openStoreBackend
	loadAgents  = agent.Load
	newProvider = llm.NewProvider
	newBroker   = events.NewBroker
	newServer   = func(deps api.Deps, cfg config.Config) server {
		return api.NewServer(deps, cfg)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(logOutput, logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "assistant",
	})

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer func() {
			if err := closeStore(); err != nil {
				logger.Warn("failed to close store", "error", err)
			}
		}()
	}

	catalog, err := loadAgents(cfg.PromptsDir)
	if err != nil {
		return err
	}
	provider, err := newProvider(llm.Config{
		Provider:         cfg.LLMProvider,
		Model:            cfg.LLMModel,
		BaseURL:          cfg.LLMBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		Timeout:          cfg.LLMTimeout,
		Sampling: llm.Sampling{
			Temperature:      cfg.LLMTemperature,
			MaxTokens:        cfg.LLMMaxTokens,
			TopP:             cfg.LLMTopP,
			FrequencyPenalty: cfg.LLMFrequencyPenalty,
			PresencePenalty:  cfg.LLMPresencePenalty,
		},
	})
	if err != nil {
		return err
	}
	retriever, err := newRetriever(cfg, logger)
	if err != nil {
		return err
	}

	sessions := conversation.NewManager(conversation.ManagerConfig{
		Store:           st,
		Catalog:         catalog,
		Provider:        provider,
		Retriever:       retriever,
		Logger:          logger,
		RefreshInterval: cfg.RefreshAfter,
		HistoryWindow:   cfg.HistoryWindow,
	})

	deps := api.Deps{
		Store:    st,
		Sessions: sessions,
		Broker:   newBroker(),
		Logger:   logger,
	}
	if cfg.ElevenLabsAPIKey != "" {
		deps.Speech = speech.NewElevenLabs(speech.Config{
			APIKey:  cfg.ElevenLabsAPIKey,
			BaseURL: cfg.ElevenLabsBaseURL,
			VoiceID: cfg.VoiceID,
			ModelID: cfg.VoiceModelID,
			Timeout: cfg.SpeechTimeout,
		})
	} else {
		logger.Warn("ELEVENLABS_API_KEY not set, /speak is disabled")
	}
	if cfg.AudioDir != "" {
		audioStore, err := audio.NewDirStore(cfg.AudioDir)
		if err != nil {
			return err
		}
		deps.Audio = audioStore
	}
	if cfg.SearchAPIKey == "" {
		logger.Warn("SERPAPI_API_KEY not set, news lookups will find nothing")
	}

	srv := newServer(deps, cfg)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("voice assistant listening",
		"addr", addr,
		"store", cfg.StoreBackend,
		"llm_provider", cfg.LLMProvider,
		"agents", catalog.Names(),
	)
	return srv.Start(ctx, addr)
}

func openStoreBackend(cfg config.Config) (store.Store, func() error, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return memory.New(), nil, nil
	case "postgres":
		st, err := postgres.New(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.StoreBackend)
	}
}

func newRetriever(cfg config.Config, logger *slog.Logger) (*news.Retriever, error) {
	cleaner, err := textclean.New(cfg.ScraperCleaner)
	if err != nil {
		return nil, err
	}
	pageScraper, err := scraper.New(scraper.Config{
		Timeout:   cfg.ScraperTimeout,
		UserAgent: cfg.ScraperUserAgent,
		Extractor: scraper.Extractor(cfg.ScraperExtractor),
		Cleaner:   cleaner,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	retrieverCfg := news.Config{
		Searcher: search.NewClient(search.Config{
			APIKey:  cfg.SearchAPIKey,
			BaseURL: cfg.SearchBaseURL,
			Engine:  cfg.SearchEngine,
			Timeout: cfg.SearchTimeout,
		}),
		Scraper:     pageScraper,
		Logger:      logger,
		MaxArticles: cfg.NewsMaxArticles,
		Concurrency: cfg.NewsConcurrency,
	}
	if cfg.NewsSummarize {
		retrieverCfg.Summarizer = summarizer.New()
		retrieverCfg.SummarySentences = cfg.NewsSummarySentences
	}
	return news.NewRetriever(retrieverCfg), nil
}
