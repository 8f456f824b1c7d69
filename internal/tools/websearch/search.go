// Package websearch implements the web_search tool on top of SearXNG, Brave
// Search or DuckDuckGo, with a short-lived result cache.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/tools/webfetch"
)

// SearchBackend represents the type of search backend to use for web queries.
type SearchBackend string

const (
	BackendSearXNG     SearchBackend = "searxng"
	BackendDuckDuckGo  SearchBackend = "duckduckgo"
	BackendBraveSearch SearchBackend = "brave"
)

// SearchType represents the type of search to perform (web, image, or news).
type SearchType string

const (
	SearchTypeWeb   SearchType = "web"
	SearchTypeImage SearchType = "image"
	SearchTypeNews  SearchType = "news"
)

const (
	maxResultCount      = 20
	extractedContentMax = 2000
)

// Config holds backend endpoints, credentials and caching settings.
type Config struct {
	SearXNGURL string `json:"searxng_url,omitempty" yaml:"searxng_url"`

	BraveAPIKey string `json:"brave_api_key,omitempty" yaml:"brave_api_key"`
	BraveURL    string `json:"brave_url,omitempty" yaml:"brave_url"`

	DuckDuckGoURL string `json:"duckduckgo_url,omitempty" yaml:"duckduckgo_url"`

	DefaultBackend SearchBackend `json:"default_backend,omitempty" yaml:"default_backend"`

	// ExtractContent fetches each web result and attaches its text.
	ExtractContent bool `json:"extract_content,omitempty" yaml:"extract_content"`

	DefaultResultCount int           `json:"default_result_count,omitempty" yaml:"default_result_count"`
	CacheTTL           time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl"`
	Timeout            time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.DefaultResultCount <= 0 {
		c.DefaultResultCount = 5
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BraveURL == "" {
		c.BraveURL = "https://api.search.brave.com/res/v1"
	}
	if c.DuckDuckGoURL == "" {
		c.DuckDuckGoURL = "https://html.duckduckgo.com/html/"
	}
	if c.DefaultBackend == "" {
		switch {
		case c.SearXNGURL != "":
			c.DefaultBackend = BackendSearXNG
		case c.BraveAPIKey != "":
			c.DefaultBackend = BackendBraveSearch
		default:
			c.DefaultBackend = BackendDuckDuckGo
		}
	}
	return c
}

// SearchParams are the web_search arguments.
type SearchParams struct {
	Query          string        `json:"query" jsonschema:"required" jsonschema_description:"The search query"`
	Type           SearchType    `json:"type,omitempty" jsonschema:"enum=web,enum=image,enum=news" jsonschema_description:"Kind of search. Default: web"`
	ResultCount    int           `json:"result_count,omitempty" jsonschema:"minimum=1,maximum=20" jsonschema_description:"Number of results (default 5)"`
	ExtractContent bool          `json:"extract_content,omitempty" jsonschema_description:"Fetch each result page and include its text"`
	Backend        SearchBackend `json:"backend,omitempty" jsonschema:"enum=searxng,enum=duckduckgo,enum=brave" jsonschema_description:"Search backend override"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet,omitempty"`
	Content     string `json:"content,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

// SearchResponse is the tool result.
type SearchResponse struct {
	Query       string         `json:"query"`
	Type        SearchType     `json:"type"`
	Results     []SearchResult `json:"results"`
	ResultCount int            `json:"result_count"`
	Backend     SearchBackend  `json:"backend"`
}

// Tool is the web_search catalog entry.
type Tool struct {
	config     Config
	httpClient *http.Client
	fetcher    *webfetch.Fetcher
	cache      *resultCache
}

// Option customizes a Tool.
type Option func(*Tool)

// WithHTTPClient overrides the client used for backend requests.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Tool) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// WithFetcher overrides the fetcher used for content extraction.
func WithFetcher(fetcher *webfetch.Fetcher) Option {
	return func(t *Tool) {
		if fetcher != nil {
			t.fetcher = fetcher
		}
	}
}

// NewTool creates the web_search tool with defaults applied.
func NewTool(config Config, opts ...Option) *Tool {
	config = config.withDefaults()
	t := &Tool{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      newResultCache(config.CacheTTL, time.Now),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.fetcher == nil {
		t.fetcher = webfetch.NewFetcher(webfetch.DefaultConfig(), nil)
	}
	return t
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web for current information. Returns titles, URLs and snippets; " +
		"supports web, image and news searches."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[SearchParams]() }

// ConcurrentSafe lets several searches in one step run in parallel.
func (t *Tool) ConcurrentSafe() bool { return true }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, _ *agent.Invocation) (string, error) {
	var params SearchParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "invalid parameters: %v", err)
	}
	params.Query = strings.TrimSpace(params.Query)
	if params.Query == "" {
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "query is required")
	}
	t.applyDefaults(&params)

	key := cacheKey(&params)
	if cached := t.cache.get(key); cached != nil {
		return formatResponse(cached)
	}

	response, err := t.search(ctx, &params, params.Backend)
	if err != nil && params.Backend != BackendDuckDuckGo {
		response, err = t.search(ctx, &params, BackendDuckDuckGo)
	}
	if err != nil {
		return "", agent.Errorf(agent.ToolErrorUnavailable, "search failed: %v", err).WithCause(err)
	}

	if params.ExtractContent && params.Type == SearchTypeWeb {
		t.extractContent(ctx, response)
	}
	t.cache.put(key, response)
	return formatResponse(response)
}

func (t *Tool) applyDefaults(params *SearchParams) {
	if params.Type == "" {
		params.Type = SearchTypeWeb
	}
	if params.ResultCount <= 0 {
		params.ResultCount = t.config.DefaultResultCount
	} else if params.ResultCount > maxResultCount {
		params.ResultCount = maxResultCount
	}
	if params.Backend == "" {
		params.Backend = t.config.DefaultBackend
	}
	if !params.ExtractContent {
		params.ExtractContent = t.config.ExtractContent
	}
}

func (t *Tool) search(ctx context.Context, params *SearchParams, backend SearchBackend) (*SearchResponse, error) {
	var (
		results []SearchResult
		err     error
	)
	switch backend {
	case BackendSearXNG:
		results, err = t.searchSearXNG(ctx, params)
	case BackendBraveSearch:
		results, err = t.searchBrave(ctx, params)
	case BackendDuckDuckGo:
		results, err = t.searchDuckDuckGo(ctx, params)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	if len(results) > params.ResultCount {
		results = results[:params.ResultCount]
	}
	return &SearchResponse{
		Query:       params.Query,
		Type:        params.Type,
		Results:     results,
		ResultCount: len(results),
		Backend:     backend,
	}, nil
}

// extractContent fetches result pages in parallel. Failures leave the
// result without content.
func (t *Tool) extractContent(ctx context.Context, response *SearchResponse) {
	var wg sync.WaitGroup
	for i := range response.Results {
		wg.Add(1)
		go func(result *SearchResult) {
			defer wg.Done()
			page, err := t.fetcher.Fetch(ctx, result.URL)
			if err == nil && page.Text != "" {
				result.Content = outbound.Truncate(page.Text, extractedContentMax)
			}
		}(&response.Results[i])
	}
	wg.Wait()
}

func formatResponse(response *SearchResponse) (string, error) {
	if response.Results == nil {
		response.Results = []SearchResult{}
	}
	output, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return string(output), nil
}
