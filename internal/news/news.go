package news

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/vocalnews/assistant/internal/search"
	"github.com/vocalnews/assistant/internal/summarizer"
)

type Region string

const (
	Global Region = "global"
	India  Region = "india"
)

func ParseRegion(value string) (Region, error) {
	switch Region(strings.ToLower(strings.TrimSpace(value))) {
	case "", Global:
		return Global, nil
	case India:
		return India, nil
	default:
		return "", fmt.Errorf("unknown news region: %s", value)
	}
}

// Country is the search country filter for the region. Global has none.
func (r Region) Country() string {
	if r == India {
		return "in"
	}
	return ""
}

// NoNewsData replaces the retrieved text when nothing could be fetched.
const NoNewsData = "No news data is currently available for this request."

const (
	DefaultMaxArticles      = 5
	DefaultConcurrency      = 5
	DefaultSummarySentences = 5
	MaxBodyChars            = 1000
)

var headlineKeywords = map[string]struct{}{
	"today":   {},
	"latest":  {},
	"current": {},
	"news":    {},
	"what":    {},
}

var headlineQueries = map[Region]string{
	Global: "top world news headlines today",
	India:  "top India news headlines today",
}

var regionQualifiers = map[Region]string{
	Global: "latest world news",
	India:  "latest India news",
}

type Article struct {
	URL     string
	Title   string
	Snippet string
	Source  string
	Date    string
	Body    string
}

type Retrieval struct {
	Text     string
	Found    bool
	Articles []Article
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

type Config struct {
	Searcher    search.Searcher
	Scraper     Scraper
	Logger      *slog.Logger
	MaxArticles int
	Concurrency int
	// Summarizer condenses each article body before truncation when set.
	Summarizer       *summarizer.Summarizer
	SummarySentences int
}

type Retriever struct {
	searcher         search.Searcher
	scraper          Scraper
	logger           *slog.Logger
	maxArticles      int
	concurrency      int
	summarizer       *summarizer.Summarizer
	summarySentences int
}

func NewRetriever(cfg Config) *Retriever {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = DefaultMaxArticles
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.SummarySentences <= 0 {
		cfg.SummarySentences = DefaultSummarySentences
	}
	return &Retriever{
		searcher:         cfg.Searcher,
		scraper:          cfg.Scraper,
		logger:           cfg.Logger.With("component", "news"),
		maxArticles:      cfg.MaxArticles,
		concurrency:      cfg.Concurrency,
		summarizer:       cfg.Summarizer,
		summarySentences: cfg.SummarySentences,
	}
}

// BuildQuery rewrites general requests for news into the region's canned
// headline query and qualifies anything else with the region.
func BuildQuery(userText string, region Region) string {
	if _, ok := headlineQueries[region]; !ok {
		region = Global
	}
	for _, word := range summarizer.Words(userText) {
		if _, ok := headlineKeywords[word]; ok {
			return headlineQueries[region]
		}
	}
	return strings.TrimSpace(strings.TrimSpace(userText) + " " + regionQualifiers[region])
}

// Retrieve searches for userText and scrapes the top results. Failures never
// escape: a failed search or a batch where every scrape failed yields
// Found=false with NoNewsData as the text.
func (r *Retriever) Retrieve(ctx context.Context, userText string, region Region) Retrieval {
	query := BuildQuery(userText, region)
	resp, err := r.searcher.Search(ctx, search.Request{
		Query:    query,
		Country:  region.Country(),
		Language: "en",
	})
	if err != nil {
		r.logger.Warn("news search failed", "query", query, "region", string(region), "error", err)
		return Retrieval{Text: NoNewsData}
	}

	results := resp.Top(r.maxArticles)
	if len(results) == 0 {
		r.logger.Info("news search returned no results", "query", query, "region", string(region))
		return Retrieval{Text: NoNewsData}
	}

	slots := make([]*Article, len(results))
	p := pool.New().WithMaxGoroutines(r.concurrency)
	for i, result := range results {
		p.Go(func() {
			body, err := r.scraper.Scrape(ctx, result.Link)
			if err != nil {
				r.logger.Debug("article skipped", "url", result.Link, "error", err)
				return
			}
			slots[i] = &Article{
				URL:     result.Link,
				Title:   result.Title,
				Snippet: result.Snippet,
				Source:  result.Source,
				Date:    result.Date,
				Body:    r.condense(body),
			}
		})
	}
	p.Wait()

	articles := make([]Article, 0, len(slots))
	for _, article := range slots {
		if article != nil {
			articles = append(articles, *article)
		}
	}
	r.logger.Info("news retrieved", "query", query, "region", string(region), "attempted", len(results), "scraped", len(articles))
	if len(articles) == 0 {
		return Retrieval{Text: NoNewsData}
	}
	return Retrieval{Text: FormatArticles(articles), Found: true, Articles: articles}
}

func (r *Retriever) condense(body string) string {
	if r.summarizer != nil {
		body = r.summarizer.Summarize(body, r.summarySentences, summarizer.Limit{})
	}
	return truncate(body, MaxBodyChars)
}

// FormatArticles renders one block per article, in order.
func FormatArticles(articles []Article) string {
	blocks := make([]string, len(articles))
	for i, article := range articles {
		var b strings.Builder
		fmt.Fprintf(&b, "Article %d\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", article.Title)
		fmt.Fprintf(&b, "Source: %s\n", article.Source)
		fmt.Fprintf(&b, "Date: %s\n", article.Date)
		fmt.Fprintf(&b, "Snippet: %s\n", article.Snippet)
		fmt.Fprintf(&b, "Content: %s", truncate(article.Body, MaxBodyChars))
		blocks[i] = b.String()
	}
	return strings.Join(blocks, "\n\n")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
