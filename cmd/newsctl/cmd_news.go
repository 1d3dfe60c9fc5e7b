package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vocalnews/assistant/internal/news"
	"github.com/vocalnews/assistant/internal/search"
	"github.com/vocalnews/assistant/internal/summarizer"
)

type NewsCmd struct {
	Query         []string      `arg:"" help:"What to look up"`
	Region        string        `short:"r" default:"global" enum:"global,india" help:"News region (global, india)"`
	APIKey        string        `name:"api-key" env:"SERPAPI_API_KEY" help:"SerpAPI key"`
	SearchURL     string        `name:"search-url" env:"SEARCH_BASE_URL" default:"https://serpapi.com" help:"Search API base URL"`
	Engine        string        `env:"SEARCH_ENGINE" default:"google_news" help:"Search engine"`
	SearchTimeout time.Duration `default:"15s" help:"Search request timeout"`
	MaxArticles   int           `default:"5" help:"Articles to scrape"`
	Concurrency   int           `default:"5" help:"Concurrent page fetches"`
	Summarize     int           `help:"Condense each article to this many sentences (0 disables)"`
	ScrapeFlags
}

func (c *NewsCmd) Run(cli *CLI, s *streams) error {
	logger := cli.logger(s)
	region, err := news.ParseRegion(c.Region)
	if err != nil {
		return err
	}
	pageScraper, err := c.build(logger)
	if err != nil {
		return err
	}
	cfg := news.Config{
		Searcher: search.NewClient(search.Config{
			APIKey:  c.APIKey,
			BaseURL: c.SearchURL,
			Engine:  c.Engine,
			Timeout: c.SearchTimeout,
		}),
		Scraper:     pageScraper,
		Logger:      logger,
		MaxArticles: c.MaxArticles,
		Concurrency: c.Concurrency,
	}
	if c.Summarize > 0 {
		cfg.Summarizer = summarizer.New()
		cfg.SummarySentences = c.Summarize
	}

	query := strings.Join(c.Query, " ")
	retrieval := news.NewRetriever(cfg).Retrieve(context.Background(), query, region)
	logger.Info("news retrieved", "query", news.BuildQuery(query, region), "articles", len(retrieval.Articles))
	if _, err := fmt.Fprintln(s.out, retrieval.Text); err != nil {
		return err
	}
	if !retrieval.Found {
		return fmt.Errorf("no articles could be retrieved")
	}
	return nil
}
