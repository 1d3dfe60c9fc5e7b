package search

import (
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
	DefaultBaseURL = "https://serpapi.com"
	DefaultEngine  = "google_news"

	opSearch = "search"
)

type Config struct {
	APIKey  string
	BaseURL string
	Engine  string
	Timeout time.Duration
}

type Request struct {
	Query    string
	Country  string
	Language string
}

type Result struct {
	Title   string
	Link    string
	Snippet string
	Source  string
	Date    string
}

type Response struct {
	News    []Result
	Organic []Result
}

// Top returns the first n news results, or organic results when the engine
// returned no news.
func (r Response) Top(n int) []Result {
	results := r.News
	if len(results) == 0 {
		results = r.Organic
	}
	if n >= 0 && len(results) > n {
		results = results[:n]
	}
	return results
}

type Searcher interface {
	Search(ctx context.Context, req Request) (Response, error)
}

// Client talks to a SerpAPI compatible search.json endpoint.
type Client struct {
	apiKey  string
	baseURL string
	engine  string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	engine := cfg.Engine
	if engine == "" {
		engine = DefaultEngine
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		engine:  engine,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Search(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Response{}, apperr.Newf(apperr.MalformedInput, opSearch, "empty query")
	}
	if c.apiKey == "" {
		return Response{}, apperr.New(apperr.UpstreamRejection, opSearch, errors.New("missing search API key"))
	}
	params := url.Values{}
	params.Set("engine", c.engine)
	params.Set("q", req.Query)
	params.Set("hl", defaultIfEmpty(req.Language, "en"))
	if req.Country != "" {
		params.Set("gl", req.Country)
	}
	params.Set("api_key", c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return Response{}, apperr.New(apperr.MalformedInput, opSearch, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, apperr.New(apperr.NetworkFailure, opSearch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, apperr.Newf(apperr.UpstreamRejection, opSearch, "status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Error          string    `json:"error"`
		NewsResults    []rawItem `json:"news_results"`
		OrganicResults []rawItem `json:"organic_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, apperr.New(apperr.MalformedInput, opSearch, fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != "" {
		return Response{}, apperr.New(apperr.UpstreamRejection, opSearch, errors.New(parsed.Error))
	}
	return Response{
		News:    convert(parsed.NewsResults),
		Organic: convert(parsed.OrganicResults),
	}, nil
}

type rawItem struct {
	Title   string          `json:"title"`
	Link    string          `json:"link"`
	Snippet string          `json:"snippet"`
	Date    string          `json:"date"`
	Source  json.RawMessage `json:"source"`
}

// sourceName accepts both "source": "Reuters" and "source": {"name": "Reuters"}.
func (i rawItem) sourceName() string {
	if len(i.Source) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(i.Source, &name); err == nil {
		return name
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(i.Source, &obj); err == nil {
		return obj.Name
	}
	return ""
}

func convert(items []rawItem) []Result {
	results := make([]Result, 0, len(items))
	for _, item := range items {
		if item.Link == "" {
			continue
		}
		results = append(results, Result{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
			Source:  item.sourceName(),
			Date:    item.Date,
		})
	}
	return results
}

func defaultIfEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
