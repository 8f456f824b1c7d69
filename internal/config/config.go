// Package config loads the Parrot configuration file.
//
// Files are YAML or JSON5 (chosen by extension), may pull in other files
// with $include, and may reference environment variables as ${NAME} or
// ${NAME:-default}. Unknown keys are rejected.
package config

import (
	"fmt"
	"time"

	"github.com/haasonsaas/parrot/internal/tools/browser"
	"github.com/haasonsaas/parrot/internal/tools/policy"
	"github.com/haasonsaas/parrot/internal/tools/tts"
	"github.com/haasonsaas/parrot/internal/tools/webfetch"
	"github.com/haasonsaas/parrot/internal/tools/websearch"
)

// Config is the main configuration structure for Parrot.
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	LLM      LLMConfig      `yaml:"llm"`
	Agent    AgentConfig    `yaml:"agent"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Cron     CronConfig     `yaml:"cron"`
	Tools    ToolsConfig    `yaml:"tools"`
	// Admins are caller ids allowed to use owner-only tools.
	Admins  []string      `yaml:"admins"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// URL selects the store: memory, sqlite://path or postgres://...
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	// Mode is "polling" or "webhook".
	Mode          string `yaml:"mode"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookPath   string `yaml:"webhook_path"`
	WebhookSecret string `yaml:"webhook_secret"`
	// AllowedUsers limits who may talk to the bot. Empty allows everyone.
	AllowedUsers []string `yaml:"allowed_users"`
}

type LLMConfig struct {
	DefaultProvider string `yaml:"default_provider"`
	// FallbackChain lists providers tried in order after the default fails.
	FallbackChain []string                     `yaml:"fallback_chain"`
	Providers     map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	DefaultModel      string        `yaml:"default_model"`
	MaxTokens         int           `yaml:"max_tokens"`
	EmbeddedToolCalls bool          `yaml:"embedded_tool_calls"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

type AgentConfig struct {
	SystemPrompt       string        `yaml:"system_prompt"`
	MaxTurns           int           `yaml:"max_turns"`
	MaxToolConcurrency int           `yaml:"max_tool_concurrency"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	HistoryLimit       int           `yaml:"history_limit"`
}

type TasksConfig struct {
	MaxPerOwner    int           `yaml:"max_per_owner"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	ResultMaxChars int           `yaml:"result_max_chars"`
	RecentWindow   time.Duration `yaml:"recent_window"`
}

type CronConfig struct {
	// RetryDelay is how long a failed one-shot job waits before firing again.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ToolsConfig struct {
	WebSearch websearch.Config `yaml:"websearch"`
	WebFetch  webfetch.Config  `yaml:"web_fetch"`
	TTS       TTSConfig        `yaml:"tts"`
	Browser   BrowserConfig    `yaml:"browser"`
	DateTime  DateTimeConfig   `yaml:"datetime"`
	Policy    PolicyConfig     `yaml:"policy"`
}

// TTSConfig enables text_to_speech. The API key falls back to the openai
// provider key when empty.
type TTSConfig struct {
	Enabled    bool `yaml:"enabled"`
	tts.Config `yaml:",inline"`
}

type BrowserConfig struct {
	Enabled            bool   `yaml:"enabled"`
	OutputDir          string `yaml:"output_dir"`
	browser.PoolConfig `yaml:",inline"`
}

type DateTimeConfig struct {
	Timezone string `yaml:"timezone"`
	// HourFormat is "12" or "24".
	HourFormat string `yaml:"hour_format"`
}

type PolicyConfig struct {
	policy.Policy `yaml:",inline"`
	// Groups adds named tool groups, referenced as group:<name>.
	Groups map[string][]string `yaml:"groups"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// TracingConfig controls OpenTelemetry tracing. Tracing is off without an endpoint.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = "sqlite://parrot.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Telegram.Mode == "" {
		cfg.Telegram.Mode = "polling"
	}
	if cfg.Telegram.WebhookPath == "" {
		cfg.Telegram.WebhookPath = "/telegram/webhook"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 10
	}
	if cfg.Agent.MaxToolConcurrency == 0 {
		cfg.Agent.MaxToolConcurrency = 4
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 60 * time.Second
	}
	if cfg.Agent.HistoryLimit == 0 {
		cfg.Agent.HistoryLimit = 20
	}
	if cfg.Tasks.MaxPerOwner == 0 {
		cfg.Tasks.MaxPerOwner = 5
	}
	if cfg.Tasks.DefaultTimeout == 0 {
		cfg.Tasks.DefaultTimeout = 120 * time.Second
	}
	if cfg.Tasks.MaxTimeout == 0 {
		cfg.Tasks.MaxTimeout = 600 * time.Second
	}
	if cfg.Tasks.ResultMaxChars == 0 {
		cfg.Tasks.ResultMaxChars = 4000
	}
	if cfg.Tasks.RecentWindow == 0 {
		cfg.Tasks.RecentWindow = 24 * time.Hour
	}
	if cfg.Cron.RetryDelay == 0 {
		cfg.Cron.RetryDelay = 5 * time.Minute
	}
	if cfg.Tools.DateTime.HourFormat == "" {
		cfg.Tools.DateTime.HourFormat = "24"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "parrot"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// IsAdmin reports whether callerID is listed in admins.
func (c *Config) IsAdmin(callerID string) bool {
	for _, admin := range c.Admins {
		if admin == callerID {
			return true
		}
	}
	return false
}
