package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/vocalnews/assistant/internal/apperr"
	"github.com/vocalnews/assistant/internal/textclean"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultTimeout   = 10 * time.Second

	maxBodyBytes = 5 * 1024 * 1024
	opScrape     = "scrape"
)

type Extractor string

const (
	ExtractText     Extractor = "text"
	ExtractMarkdown Extractor = "markdown"
)

type Config struct {
	Timeout   time.Duration
	UserAgent string
	Extractor Extractor
	Cleaner   textclean.Cleaner
	Logger    *slog.Logger
}

type Scraper struct {
	client    *http.Client
	userAgent string
	extract   func(io.Reader) (string, error)
	cleaner   textclean.Cleaner
	logger    *slog.Logger
}

func New(cfg Config) (*Scraper, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Cleaner == nil {
		cfg.Cleaner = textclean.Regex{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var extract func(io.Reader) (string, error)
	switch cfg.Extractor {
	case "", ExtractText:
		extract = extractText
	case ExtractMarkdown:
		extract = extractMarkdown
	default:
		return nil, fmt.Errorf("unsupported extractor: %s", cfg.Extractor)
	}
	return &Scraper{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		extract:   extract,
		cleaner:   cfg.Cleaner,
		logger:    cfg.Logger.With("component", "scraper"),
	}, nil
}

// Scrape fetches rawURL and returns its cleaned visible text. Every failure is
// logged and returned as an *apperr.Error.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (string, error) {
	text, err := s.scrape(ctx, rawURL)
	if err != nil {
		s.logger.Warn("scrape failed", "url", rawURL, "kind", apperr.KindOf(err).String(), "error", err)
		return "", err
	}
	s.logger.Debug("scraped page", "url", rawURL, "chars", len(text))
	return text, nil
}

func (s *Scraper) scrape(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", apperr.Newf(apperr.MalformedInput, opScrape, "invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", apperr.New(apperr.MalformedInput, opScrape, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperr.New(apperr.NetworkFailure, opScrape, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", apperr.Newf(apperr.UpstreamRejection, opScrape, "status %s", resp.Status)
	}

	raw, err := s.extract(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", apperr.New(apperr.MalformedInput, opScrape, err)
	}
	text := s.cleaner.Clean(raw)
	if text == "" {
		return "", apperr.Newf(apperr.EmptyResult, opScrape, "no text extracted from %s", rawURL)
	}
	return text, nil
}

func extractText(body io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, template").Remove()

	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, node := range doc.Nodes {
		walk(node)
	}
	return strings.Join(parts, " "), nil
}

func extractMarkdown(body io.Reader) (string, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	converter := md.NewConverter("", true, nil)
	converter.Remove("script", "style", "noscript", "template")
	markdown, err := converter.ConvertString(string(content))
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return strings.TrimSpace(markdown), nil
}
