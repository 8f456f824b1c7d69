package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const userAgent = "Mozilla/5.0 (compatible; ParrotBot/1.0)"

func (t *Tool) get(ctx context.Context, target string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	return body, nil
}

// searchSearXNG queries a SearXNG instance's JSON API.
func (t *Tool) searchSearXNG(ctx context.Context, params *SearchParams) ([]SearchResult, error) {
	if t.config.SearXNGURL == "" {
		return nil, fmt.Errorf("searxng url not configured")
	}
	searchURL, err := url.Parse(t.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng url: %w", err)
	}

	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("format", "json")
	query.Set("pageno", "1")
	switch params.Type {
	case SearchTypeImage:
		query.Set("categories", "images")
	case SearchTypeNews:
		query.Set("categories", "news")
	default:
		query.Set("categories", "general")
	}
	searchURL.Path = strings.TrimSuffix(searchURL.Path, "/") + "/search"
	searchURL.RawQuery = query.Encode()

	body, err := t.get(ctx, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	var resp struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			ImgSrc        string `json:"img_src,omitempty"`
			PublishedDate string `json:"publishedDate,omitempty"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("searxng: parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			ImageURL:    r.ImgSrc,
			PublishedAt: r.PublishedDate,
		})
	}
	return results, nil
}

// searchBrave queries the Brave Search API.
func (t *Tool) searchBrave(ctx context.Context, params *SearchParams) ([]SearchResult, error) {
	if t.config.BraveAPIKey == "" {
		return nil, fmt.Errorf("brave api key not configured")
	}

	endpoint := "/web/search"
	switch params.Type {
	case SearchTypeImage:
		endpoint = "/images/search"
	case SearchTypeNews:
		endpoint = "/news/search"
	}
	searchURL, err := url.Parse(strings.TrimSuffix(t.config.BraveURL, "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid brave url: %w", err)
	}
	query := url.Values{}
	query.Set("q", params.Query)
	query.Set("count", strconv.Itoa(params.ResultCount))
	searchURL.RawQuery = query.Encode()

	body, err := t.get(ctx, searchURL.String(), http.Header{
		"Accept":               {"application/json"},
		"X-Subscription-Token": {t.config.BraveAPIKey},
	})
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}

	var results []SearchResult
	switch params.Type {
	case SearchTypeImage:
		var resp struct {
			Results []struct {
				Title     string `json:"title"`
				Thumbnail struct {
					Src string `json:"src"`
				} `json:"thumbnail"`
				Properties struct {
					URL string `json:"url"`
				} `json:"properties"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("brave: parse response: %w", err)
		}
		for _, r := range resp.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.Properties.URL, ImageURL: r.Thumbnail.Src})
		}

	case SearchTypeNews:
		var resp struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("brave: parse response: %w", err)
		}
		for _, r := range resp.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description, PublishedAt: r.Age})
		}

	default:
		var resp struct {
			Web struct {
				Results []struct {
					Title       string `json:"title"`
					URL         string `json:"url"`
					Description string `json:"description"`
				} `json:"results"`
			} `json:"web"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("brave: parse response: %w", err)
		}
		for _, r := range resp.Web.Results {
			results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		}
	}
	return results, nil
}

// searchDuckDuckGo scrapes the DuckDuckGo HTML endpoint. It only serves
// web results.
func (t *Tool) searchDuckDuckGo(ctx context.Context, params *SearchParams) ([]SearchResult, error) {
	searchURL, err := url.Parse(t.config.DuckDuckGoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid duckduckgo url: %w", err)
	}
	searchURL.RawQuery = url.Values{"q": {params.Query}}.Encode()

	body, err := t.get(ctx, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse html: %w", err)
	}

	var results []SearchResult
	doc.Find("div.result").Each(func(_ int, s *goquery.Selection) {
		if s.HasClass("result--ad") {
			return
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		target := resolveDuckDuckGoLink(href)
		title := strings.Join(strings.Fields(link.Text()), " ")
		if target == "" || title == "" {
			return
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     target,
			Snippet: strings.Join(strings.Fields(s.Find(".result__snippet").First().Text()), " "),
		})
	})
	return results, nil
}

// resolveDuckDuckGoLink unwraps the /l/?uddg= redirect used on result links.
func resolveDuckDuckGoLink(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}
