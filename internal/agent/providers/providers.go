// Package providers implements agent.ProviderAdapter for the supported LLM
// backends: OpenAI (and compatible servers), Anthropic, and Google Gemini.
package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/pkg/models"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config configures a single provider adapter.
type Config struct {
	// APIKey authenticates requests
	APIKey string

	// BaseURL overrides the API endpoint (OpenAI-compatible servers, proxies, tests)
	BaseURL string

	// DefaultModel is used when a request names no model
	DefaultModel string

	// MaxTokens caps response length
	// Default: 4096
	MaxTokens int

	// EmbeddedToolCalls converts tool calls written into response text into
	// structured calls when the structured list is empty
	EmbeddedToolCalls bool

	// Retry controls in-place retries of transient failures
	Retry RetryPolicy

	// HTTPClient overrides the transport
	HTTPClient *http.Client
}

func (c Config) maxTokens() int {
	if c.MaxTokens <= 0 {
		return 4096
	}
	return c.MaxTokens
}

// New builds the adapter for the named provider.
func New(name string, cfg Config) (agent.ProviderAdapter, error) {
	switch strings.ToLower(name) {
	case ProviderOpenAI:
		return NewOpenAIAdapter(cfg)
	case ProviderAnthropic:
		return NewAnthropicAdapter(cfg)
	case ProviderGemini, "google":
		return NewGeminiAdapter(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// toolNames collects declared names for embedded call matching.
func toolNames(defs []agent.ToolDefinition) map[string]bool {
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		names[def.Name] = true
	}
	return names
}

// attachmentNote describes attachments a provider cannot take inline.
func attachmentNote(att models.Attachment) string {
	name := att.Filename
	if name == "" {
		name = string(att.Kind)
	}
	return fmt.Sprintf("[attached %s: %s]", att.Kind, name)
}

// embeddedCallID names a call synthesised from response text.
func embeddedCallID(n int) string {
	return fmt.Sprintf("call_embedded_%d", n)
}
