package webfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Config controls fetching limits.
type Config struct {
	// MaxBytes caps how much of a response body is read.
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`

	// MaxChars caps the extracted content returned to the model.
	MaxChars int `json:"max_chars" yaml:"max_chars"`

	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`

	// AllowPrivate disables the private address guard. Tests only.
	AllowPrivate bool `json:"-" yaml:"-"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxBytes:  2 << 20,
		MaxChars:  10000,
		Timeout:   15 * time.Second,
		UserAgent: "Mozilla/5.0 (compatible; ParrotBot/1.0)",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.MaxChars <= 0 {
		c.MaxChars = d.MaxChars
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	return c
}

// Page is the readable content of one fetched URL.
type Page struct {
	URL         string
	Title       string
	ContentType string
	Text        string
	Markdown    string
}

// Fetcher downloads pages and extracts their readable content.
type Fetcher struct {
	config Config
	client *http.Client
}

var (
	errUnsupportedType = errors.New("unsupported content type")

	blankLines = regexp.MustCompile(`\n{3,}`)
)

// strippedSelectors never carry readable content.
const strippedSelectors = "script, style, noscript, nav, footer, aside, iframe, svg, form"

// NewFetcher builds a fetcher. client may be nil.
func NewFetcher(config Config, client *http.Client) *Fetcher {
	config = config.withDefaults()
	f := &Fetcher{config: config}
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	} else {
		copied := *client
		client = &copied
	}
	if !config.AllowPrivate {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			_, err := ValidateURL(req.Context(), nil, req.URL.String())
			return err
		}
	}
	f.client = client
	return f
}

// Config returns the effective limits.
func (f *Fetcher) Config() Config {
	return f.config
}

// Fetch downloads rawURL and extracts its title, text and markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if !f.config.AllowPrivate {
		if _, err := ValidateURL(ctx, nil, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" {
		mediaType = "text/html"
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	page := &Page{URL: resp.Request.URL.String(), ContentType: mediaType}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		if err := extractHTML(page, string(body)); err != nil {
			return nil, err
		}
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
		page.Text = strings.TrimSpace(string(body))
		page.Markdown = page.Text
	default:
		return nil, fmt.Errorf("%w: %s", errUnsupportedType, mediaType)
	}
	return page, nil
}

func extractHTML(page *Page, html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	page.Title = collapseSpaces(doc.Find("title").First().Text())
	doc.Find(strippedSelectors).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	page.Text = normalizeText(root.Text())

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	})
	page.Markdown = strings.TrimSpace(blankLines.ReplaceAllString(converter.Convert(root), "\n\n"))
	return nil
}

// normalizeText collapses runs of spaces within lines and drops blank lines.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = collapseSpaces(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
