package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalLLM = `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "parrot.yaml", minimalLLM))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 || cfg.Database.URL != "sqlite://parrot.db" {
		t.Fatalf("unexpected server/database defaults: %+v %+v", cfg.Server, cfg.Database)
	}
	if cfg.Agent.MaxTurns != 10 || cfg.Agent.HistoryLimit != 20 || cfg.Agent.ToolTimeout != time.Minute {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if cfg.Tasks.MaxPerOwner != 5 || cfg.Tasks.DefaultTimeout != 120*time.Second || cfg.Tasks.MaxTimeout != 600*time.Second {
		t.Fatalf("unexpected task defaults: %+v", cfg.Tasks)
	}
	if cfg.Cron.RetryDelay != 5*time.Minute || cfg.Telegram.Mode != "polling" {
		t.Fatalf("unexpected cron/telegram defaults")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "parrot.yaml", minimalLLM+`
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("PARROT_TEST_KEY", "sk-from-env")
	path := writeConfig(t, "parrot.yaml", `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: ${PARROT_TEST_KEY}
      default_model: ${PARROT_TEST_MODEL:-gpt-4o-mini}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	openai := cfg.LLM.Providers["openai"]
	if openai.APIKey != "sk-from-env" || openai.DefaultModel != "gpt-4o-mini" {
		t.Fatalf("unexpected provider config: %+v", openai)
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "llm.yaml"), []byte(minimalLLM+`
agent:
  history_limit: 5
  max_turns: 4
`), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "parrot.yaml")
	if err := os.WriteFile(path, []byte("$include: llm.yaml\nagent:\n  max_turns: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.HistoryLimit != 5 || cfg.Agent.MaxTurns != 6 {
		t.Fatalf("include merge wrong: %+v", cfg.Agent)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadIncludeKeySurvivesEnv(t *testing.T) {
	// The include directive is a key, so an "include" variable must not
	// rewrite it.
	t.Setenv("include", "nonsense")
	t.Setenv("PARROT_TEST_LLM_FILE", "llm.yaml")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "llm.yaml"), []byte(minimalLLM+"agent:\n  history_limit: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "parrot.yaml")
	if err := os.WriteFile(path, []byte("$include: ${PARROT_TEST_LLM_FILE}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.HistoryLimit != 3 {
		t.Fatalf("include not applied: %+v", cfg.Agent)
	}
}

func TestLoadTypesWholeReferences(t *testing.T) {
	t.Setenv("PARROT_TEST_PORT", "9090")
	t.Setenv("PARROT_TEST_TTS", "true")
	t.Setenv("PARROT_TEST_VOICE", "nova")
	path := writeConfig(t, "parrot.yaml", minimalLLM+`
server:
  http_port: ${PARROT_TEST_PORT}
tools:
  tts:
    enabled: ${PARROT_TEST_TTS}
    api_key: sk-tts
    voice: ${PARROT_TEST_VOICE}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port = %d", cfg.Server.HTTPPort)
	}
	if !cfg.Tools.TTS.Enabled || cfg.Tools.TTS.Voice != "nova" {
		t.Errorf("tts = %+v", cfg.Tools.TTS)
	}
}

func TestExpandString(t *testing.T) {
	t.Setenv("PARROT_TEST_NAME", "bot")
	t.Setenv("PARROT_TEST_NUM", "42")
	tests := []struct {
		in   string
		want any
	}{
		{in: "plain", want: "plain"},
		{in: "pa$$word", want: "pa$word"},
		{in: "hi ${PARROT_TEST_NAME}", want: "hi bot"},
		{in: "$PARROT_TEST_NAME", want: "bot"},
		{in: "${PARROT_TEST_MISSING:-fallback}", want: "fallback"},
		{in: "${PARROT_TEST_NUM}", want: 42},
		{in: "id-${PARROT_TEST_NUM}", want: "id-42"},
		{in: "${PARROT_TEST_MISSING:-1.5}", want: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandString(tt.in); got != tt.want {
				t.Fatalf("expandString(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadGlobIncludes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "conf.d"), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"conf.d/10-llm.yaml":   minimalLLM + "agent:\n  max_turns: 3\n",
		"conf.d/20-agent.yaml": "agent:\n  max_turns: 7\n  history_limit: 9\n",
		"parrot.yaml":          "$include:\n  - conf.d/*.yaml\n  - extra.d/*.yaml\nagent:\n  history_limit: 11\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := Load(filepath.Join(dir, "parrot.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Agent.MaxTurns != 7 || cfg.Agent.HistoryLimit != 11 {
		t.Fatalf("glob include merge wrong: %+v", cfg.Agent)
	}
}

func TestLoadMissingInclude(t *testing.T) {
	path := writeConfig(t, "parrot.yaml", minimalLLM+"\n$include: missing.yaml\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for a missing include")
	}
}

func TestLoadJSON5(t *testing.T) {
	path := writeConfig(t, "parrot.json5", `{
  // comments are allowed
  llm: {default_provider: "openai", providers: {openai: {api_key: "sk"}}},
  tools: {
    web_fetch: {max_chars: 500, timeout: "5s"},
    tts: {enabled: true, voice: "nova"},
    policy: {profile: "standard", deny: ["browser"]},
  },
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tools.WebFetch.MaxChars != 500 || cfg.Tools.WebFetch.Timeout != 5*time.Second {
		t.Fatalf("web_fetch = %+v", cfg.Tools.WebFetch)
	}
	if !cfg.Tools.TTS.Enabled || cfg.Tools.TTS.Voice != "nova" {
		t.Fatalf("tts = %+v", cfg.Tools.TTS)
	}
	if cfg.Tools.Policy.Profile != "standard" || len(cfg.Tools.Policy.Deny) != 1 {
		t.Fatalf("policy = %+v", cfg.Tools.Policy)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no providers", func(c *Config) { c.LLM.Providers = nil }, "llm.providers"},
		{"unknown default provider", func(c *Config) { c.LLM.DefaultProvider = "openai" }, "default_provider"},
		{"unknown provider", func(c *Config) { c.LLM.Providers["mistral"] = LLMProviderConfig{} }, "mistral"},
		{"fallback not configured", func(c *Config) { c.LLM.FallbackChain = []string{"gemini"} }, "fallback_chain"},
		{"telegram token", func(c *Config) { c.Telegram.Enabled = true }, "bot_token"},
		{"webhook url", func(c *Config) {
			c.Telegram.Enabled, c.Telegram.BotToken, c.Telegram.Mode = true, "t", "webhook"
		}, "webhook_url"},
		{"max turns", func(c *Config) { c.Agent.MaxTurns = 25 }, "max_turns"},
		{"task timeouts", func(c *Config) { c.Tasks.DefaultTimeout = time.Hour }, "default_timeout"},
		{"database", func(c *Config) { c.Database.URL = "mysql://x" }, "database.url"},
		{"searxng url", func(c *Config) { c.Tools.WebSearch.DefaultBackend = "searxng" }, "searxng_url"},
		{"tts key", func(c *Config) { c.Tools.TTS.Enabled = true }, "tools.tts"},
		{"timezone", func(c *Config) { c.Tools.DateTime.Timezone = "Mars/Base" }, "timezone"},
		{"hour format", func(c *Config) { c.Tools.DateTime.HourFormat = "13" }, "hour_format"},
		{"policy group", func(c *Config) { c.Tools.Policy.Deny = []string{"group:nope"} }, "tools.policy"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"version", func(c *Config) { c.Version = 2 }, "newer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.Providers = map[string]LLMProviderConfig{"anthropic": {APIKey: "k"}}
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}

	cfg := Default()
	cfg.LLM.Providers = map[string]LLMProviderConfig{"anthropic": {APIKey: "k"}, "openai": {APIKey: "o"}}
	cfg.LLM.FallbackChain = []string{"openai"}
	cfg.Tools.TTS.Enabled = true
	cfg.Tools.Policy.Groups = map[string][]string{"research": {"web_search"}}
	cfg.Tools.Policy.Allow = []string{"group:research"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{Admins: []string{"42"}}
	if !cfg.IsAdmin("42") || cfg.IsAdmin("7") {
		t.Fatal("IsAdmin mismatch")
	}
}

func TestJSONSchema(t *testing.T) {
	raw, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, key := range []string{"history_limit", "fallback_chain", "searxng_url", "webhook_path", "max_chars", "voice", "admin_only"} {
		if !strings.Contains(string(raw), `"`+key+`"`) {
			t.Errorf("schema missing %s", key)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion(CurrentVersion); err != nil {
		t.Fatalf("current version rejected: %v", err)
	}
	if err := ValidateVersion(CurrentVersion + 1); !errors.Is(err, ErrConfigTooNew) {
		t.Errorf("newer version: got %v", err)
	}
	if err := ValidateVersion(-1); !errors.Is(err, ErrConfigUnsupported) {
		t.Errorf("old version: got %v", err)
	}
}
