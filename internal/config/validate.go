package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/parrot/internal/tools/policy"
	"github.com/haasonsaas/parrot/internal/tools/websearch"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

var knownProviders = map[string]bool{"openai": true, "anthropic": true, "gemini": true}

// Validate checks cross-field rules. It expects defaults to be applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port must be between 0 and 65535")
	}

	dbURL := strings.TrimSpace(c.Database.URL)
	if dbURL != "memory" && !strings.HasPrefix(dbURL, "sqlite://") &&
		!strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
		add("database.url must be memory, sqlite:// or postgres://")
	}

	if c.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.BotToken) == "" {
			add("telegram.bot_token is required when telegram is enabled")
		}
		switch c.Telegram.Mode {
		case "polling":
		case "webhook":
			if u, err := url.Parse(c.Telegram.WebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
				add("telegram.webhook_url must be an https URL in webhook mode")
			}
			if !strings.HasPrefix(c.Telegram.WebhookPath, "/") {
				add("telegram.webhook_path must start with /")
			}
		default:
			add("telegram.mode must be polling or webhook")
		}
	}

	c.validateLLM(add)

	if c.Agent.MaxTurns < 1 || c.Agent.MaxTurns > 10 {
		add("agent.max_turns must be between 1 and 10")
	}
	if c.Agent.MaxToolConcurrency < 1 {
		add("agent.max_tool_concurrency must be positive")
	}
	if c.Agent.HistoryLimit < 1 {
		add("agent.history_limit must be positive")
	}
	if c.Tasks.MaxPerOwner < 1 {
		add("tasks.max_per_owner must be positive")
	}
	if c.Tasks.MaxTimeout > 0 && c.Tasks.DefaultTimeout > c.Tasks.MaxTimeout {
		add("tasks.default_timeout must not exceed tasks.max_timeout")
	}
	for name, d := range map[string]time.Duration{
		"agent.tool_timeout":    c.Agent.ToolTimeout,
		"tasks.default_timeout": c.Tasks.DefaultTimeout,
		"cron.retry_delay":      c.Cron.RetryDelay,
	} {
		if d < 0 {
			add("%s must not be negative", name)
		}
	}

	c.validateTools(add)

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func (c *Config) validateLLM(add func(string, ...any)) {
	if len(c.LLM.Providers) == 0 {
		add("llm.providers must configure at least one provider")
		return
	}
	for name := range c.LLM.Providers {
		if !knownProviders[strings.ToLower(name)] {
			add("llm.providers.%s is not a supported provider", name)
		}
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		add("llm.default_provider %q is not configured in llm.providers", c.LLM.DefaultProvider)
	}
	for _, name := range c.LLM.FallbackChain {
		if _, ok := c.LLM.Providers[name]; !ok {
			add("llm.fallback_chain entry %q is not configured in llm.providers", name)
		}
	}
}

func (c *Config) validateTools(add func(string, ...any)) {
	switch c.Tools.WebSearch.DefaultBackend {
	case "", websearch.BackendSearXNG, websearch.BackendDuckDuckGo, websearch.BackendBraveSearch:
	default:
		add("tools.websearch.default_backend must be searxng, duckduckgo or brave")
	}
	if c.Tools.WebSearch.DefaultBackend == websearch.BackendSearXNG && c.Tools.WebSearch.SearXNGURL == "" {
		add("tools.websearch.searxng_url is required for the searxng backend")
	}
	if c.Tools.WebSearch.DefaultBackend == websearch.BackendBraveSearch && c.Tools.WebSearch.BraveAPIKey == "" {
		add("tools.websearch.brave_api_key is required for the brave backend")
	}

	if c.Tools.TTS.Enabled {
		probe := c.Tools.TTS.Config
		if probe.APIKey == "" {
			probe.APIKey = c.LLM.Providers["openai"].APIKey
		}
		probe.ApplyDefaults()
		if err := probe.Validate(); err != nil {
			add("tools.tts: %v", err)
		}
	}
	if c.Tools.Browser.Enabled && c.Tools.Browser.MaxTabs < 0 {
		add("tools.browser.max_tabs must not be negative")
	}

	switch c.Tools.DateTime.HourFormat {
	case "12", "24":
	default:
		add("tools.datetime.hour_format must be 12 or 24")
	}
	if tz := c.Tools.DateTime.Timezone; tz != "" && !strings.EqualFold(tz, "utc") {
		if _, err := time.LoadLocation(tz); err != nil {
			add("tools.datetime.timezone %q is unknown", tz)
		}
	}

	resolver := c.PolicyResolver()
	if err := resolver.Validate(&c.Tools.Policy.Policy); err != nil {
		add("tools.policy: %v", err)
	}
}

// PolicyResolver returns a policy resolver that knows the configured groups.
func (c *Config) PolicyResolver() *policy.Resolver {
	resolver := policy.NewResolver()
	for name, tools := range c.Tools.Policy.Groups {
		if !strings.HasPrefix(name, "group:") {
			name = "group:" + name
		}
		resolver.AddGroup(policy.NormalizeTool(name), tools)
	}
	return resolver
}
