package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/parrot/internal/config"
	"github.com/haasonsaas/parrot/internal/outbound"
)

const testConfig = `
database:
  url: memory
llm:
  default_provider: anthropic
  fallback_chain: [anthropic, openai]
  providers:
    anthropic:
      api_key: test
    openai:
      api_key: test
tools:
  policy:
    deny: [web_fetch]
admins: ["1"]
`

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parrot.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "tools", "jobs", "tasks", "config", "version"} {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("PARROT_CONFIG", "")
	if got := resolveConfigPath(""); got != DefaultConfigPath {
		t.Fatalf("resolveConfigPath(\"\") = %q", got)
	}
	t.Setenv("PARROT_CONFIG", "/etc/parrot.yaml")
	if got := resolveConfigPath(DefaultConfigPath); got != "/etc/parrot.yaml" {
		t.Fatalf("env path ignored: %q", got)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Fatalf("explicit path ignored: %q", got)
	}
}

func TestConfigCommands(t *testing.T) {
	path := writeTestConfig(t, testConfig)

	out, err := execute(t, "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "is valid") {
		t.Fatalf("output = %q", out)
	}

	bad := writeTestConfig(t, "llm:\n  default_provider: nope\n")
	if _, err := execute(t, "config", "validate", "--config", bad); err == nil {
		t.Fatal("expected validation error")
	}

	out, err = execute(t, "config", "schema")
	if err != nil || !strings.Contains(out, `"telegram"`) {
		t.Fatalf("config schema: %v %q", err, out)
	}
}

func TestToolsList(t *testing.T) {
	out, err := execute(t, "tools", "list", "--config", writeTestConfig(t, testConfig))
	if err != nil {
		t.Fatalf("tools list: %v", err)
	}
	for _, want := range []string{"web_search", "datetime", "schedule", "background_task"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools list missing %s:\n%s", want, out)
		}
	}
	if strings.Contains(out, "web_fetch") {
		t.Errorf("denied tool listed:\n%s", out)
	}
}

func TestNewRuntime(t *testing.T) {
	cfg, err := config.Load(writeTestConfig(t, testConfig))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, newLogger(cfg.Logging, false))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.shutdown(sctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	names := rt.catalog.Names()
	for _, want := range []string{"web_search", "datetime", "schedule", "background_task"} {
		if !slices.Contains(names, want) {
			t.Errorf("catalog %v missing %s", names, want)
		}
	}
	if rt.telegram != nil {
		t.Fatal("telegram should be disabled")
	}
}

func TestNotifierRelay(t *testing.T) {
	var logged, routed int
	relay := &notifierRelay{fallback: outbound.NotifierFunc(func(context.Context, string, outbound.Message) error {
		logged++
		return nil
	})}
	_ = relay.Notify(context.Background(), "1", outbound.Message{Text: "x"})
	relay.set(outbound.NotifierFunc(func(context.Context, string, outbound.Message) error {
		routed++
		return nil
	}))
	_ = relay.Notify(context.Background(), "1", outbound.Message{Text: "y"})
	if logged != 1 || routed != 1 {
		t.Fatalf("logged %d routed %d", logged, routed)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.HasPrefix(out, "parrot dev") {
		t.Fatalf("version: %v %q", err, out)
	}
}
