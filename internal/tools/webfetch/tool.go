// Package webfetch implements the web_fetch tool: fetch a URL and return
// its readable content as markdown or plain text.
package webfetch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/outbound"
)

// Args are the web_fetch parameters.
type Args struct {
	URL         string `json:"url" jsonschema:"required" jsonschema_description:"URL to fetch (http/https only)"`
	ExtractMode string `json:"extract_mode,omitempty" jsonschema:"enum=markdown,enum=text" jsonschema_description:"Extraction mode. Default: markdown"`
	MaxChars    int    `json:"max_chars,omitempty" jsonschema:"minimum=0" jsonschema_description:"Maximum characters to return"`
}

type result struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	ExtractMode string `json:"extract_mode"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// Tool is the web_fetch catalog entry.
type Tool struct {
	fetcher *Fetcher
}

// NewTool wraps a fetcher.
func NewTool(fetcher *Fetcher) *Tool {
	if fetcher == nil {
		fetcher = NewFetcher(DefaultConfig(), nil)
	}
	return &Tool{fetcher: fetcher}
}

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch a web page and return its readable content as markdown or plain text."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

func (t *Tool) ConcurrentSafe() bool { return true }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, _ *agent.Invocation) (string, error) {
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "invalid parameters: %v", err)
	}
	args.URL = strings.TrimSpace(args.URL)
	if args.URL == "" {
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "url is required")
	}

	page, err := t.fetcher.Fetch(ctx, args.URL)
	if err != nil {
		if errors.Is(err, ErrBlockedURL) {
			return "", agent.NewToolError(agent.ToolErrorForbidden, err.Error()).WithCause(err)
		}
		return "", agent.Errorf(agent.ToolErrorExecution, "fetch failed: %v", err).WithCause(err)
	}

	mode := "markdown"
	content := page.Markdown
	if strings.EqualFold(strings.TrimSpace(args.ExtractMode), "text") {
		mode = "text"
		content = page.Text
	}

	limit := t.fetcher.Config().MaxChars
	if args.MaxChars > 0 && args.MaxChars < limit {
		limit = args.MaxChars
	}
	truncated := outbound.Truncate(content, limit)

	payload, err := json.Marshal(result{
		URL:         page.URL,
		Title:       page.Title,
		ExtractMode: mode,
		Content:     truncated,
		Truncated:   truncated != content,
	})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
