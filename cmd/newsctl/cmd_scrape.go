package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vocalnews/assistant/internal/scraper"
	"github.com/vocalnews/assistant/internal/textclean"
)

// ScrapeFlags are shared by every command that fetches article pages.
type ScrapeFlags struct {
	Timeout   time.Duration `default:"10s" help:"Per-page request timeout"`
	UserAgent string        `env:"SCRAPER_USER_AGENT" help:"User-Agent header"`
	Extractor string        `short:"e" default:"text" enum:"text,markdown" help:"Extraction mode (text, markdown)"`
	Cleaner   string        `short:"c" default:"regex" enum:"regex,stopword" help:"Text cleaner (regex, stopword)"`
}

func (f ScrapeFlags) build(logger *slog.Logger) (*scraper.Scraper, error) {
	cleaner, err := textclean.New(f.Cleaner)
	if err != nil {
		return nil, err
	}
	return scraper.New(scraper.Config{
		Timeout:   f.Timeout,
		UserAgent: f.UserAgent,
		Extractor: scraper.Extractor(f.Extractor),
		Cleaner:   cleaner,
		Logger:    logger,
	})
}

type ScrapeCmd struct {
	URL string `arg:"" help:"Page to fetch"`
	ScrapeFlags
}

func (c *ScrapeCmd) Run(cli *CLI, s *streams) error {
	pageScraper, err := c.build(cli.logger(s))
	if err != nil {
		return err
	}
	text, err := pageScraper.Scrape(context.Background(), c.URL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.out, text)
	return err
}
