// Package browser implements the browser tool: headless Chrome navigation,
// visible text extraction and screenshots.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/tools/webfetch"
	"github.com/haasonsaas/parrot/pkg/models"
)

const defaultTextChars = 8000

// Args are the browser parameters.
type Args struct {
	Action   string `json:"action" jsonschema:"required,enum=navigate,enum=text,enum=screenshot" jsonschema_description:"The browser action to perform"`
	URL      string `json:"url" jsonschema:"required" jsonschema_description:"Page to open (http/https)"`
	Selector string `json:"selector,omitempty" jsonschema_description:"CSS selector for the text action (default: body)"`
	FullPage bool   `json:"full_page,omitempty" jsonschema_description:"Capture the full page rather than the viewport"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"minimum=0" jsonschema_description:"Maximum characters of text to return"`
}

// ToolConfig controls where screenshots go and which URLs are allowed.
type ToolConfig struct {
	OutputDir string `json:"output_dir,omitempty" yaml:"output_dir"`

	// AllowPrivate skips the private address guard. Tests only.
	AllowPrivate bool `json:"-" yaml:"-"`
}

// Tool is the browser catalog entry.
type Tool struct {
	driver Driver
	config ToolConfig
}

// NewTool wraps a driver.
func NewTool(driver Driver, config ToolConfig) *Tool {
	if config.OutputDir == "" {
		config.OutputDir = filepath.Join(os.TempDir(), "parrot-browser")
	}
	return &Tool{driver: driver, config: config}
}

func (t *Tool) Name() string { return "browser" }

func (t *Tool) Description() string {
	return "Open a page in a headless browser, with JavaScript rendering. Actions: navigate (title and final URL), " +
		"text (visible text of the page or a CSS selector), screenshot (sent to the user as an image)."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

func (t *Tool) Execute(ctx context.Context, raw json.RawMessage, _ *agent.Invocation) (string, error) {
	if t.driver == nil {
		return "", agent.NewToolError(agent.ToolErrorUnavailable, "browser is not configured")
	}
	var args Args
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "invalid parameters: %v", err)
	}
	args.URL = strings.TrimSpace(args.URL)
	if args.URL == "" {
		return "", agent.NewToolError(agent.ToolErrorInvalidArguments, "url is required")
	}
	if !t.config.AllowPrivate {
		if _, err := webfetch.ValidateURL(ctx, nil, args.URL); err != nil {
			return "", agent.NewToolError(agent.ToolErrorForbidden, err.Error()).WithCause(err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(args.Action)) {
	case "navigate":
		info, err := t.driver.Navigate(ctx, args.URL)
		if err != nil {
			return "", actionError("navigate", err)
		}
		return encode(info)

	case "text":
		info, text, err := t.driver.Text(ctx, args.URL, args.Selector)
		if err != nil {
			return "", actionError("text", err)
		}
		limit := defaultTextChars
		if args.MaxChars > 0 && args.MaxChars < limit {
			limit = args.MaxChars
		}
		text = strings.TrimSpace(text)
		truncated := outbound.Truncate(text, limit)
		return encode(map[string]any{
			"url":       info.URL,
			"title":     info.Title,
			"text":      truncated,
			"truncated": truncated != text,
		})

	case "screenshot":
		info, png, err := t.driver.Screenshot(ctx, args.URL, args.FullPage)
		if err != nil {
			return "", actionError("screenshot", err)
		}
		path, err := t.save(png)
		if err != nil {
			return "", agent.Errorf(agent.ToolErrorExecution, "save screenshot: %v", err)
		}
		return agent.AttachMedia(map[string]any{
			"url":    info.URL,
			"title":  info.Title,
			"status": "sent",
			"bytes":  len(png),
		}, models.MediaRef{
			Kind:     models.MediaImage,
			Path:     path,
			MimeType: "image/png",
			Caption:  info.Title,
		})

	default:
		return "", agent.Errorf(agent.ToolErrorInvalidArguments, "unknown action %q", args.Action)
	}
}

func (t *Tool) save(png []byte) (string, error) {
	if err := os.MkdirAll(t.config.OutputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.config.OutputDir, "screenshot-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func actionError(action string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return agent.Errorf(agent.ToolErrorTimeout, "%s timed out", action).WithCause(err)
	}
	if errors.Is(err, ErrPoolClosed) {
		return agent.NewToolError(agent.ToolErrorUnavailable, err.Error()).WithCause(err)
	}
	return agent.Errorf(agent.ToolErrorExecution, "%s failed: %v", action, err).WithCause(err)
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
