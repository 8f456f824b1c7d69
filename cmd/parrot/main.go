// Package main provides the CLI entry point for Parrot, a Telegram chat bot
// that answers with LLM providers and tools.
//
// # Basic Usage
//
// Start the bot:
//
//	parrot serve --config parrot.yaml
//
// Inspect state:
//
//	parrot tools list
//	parrot jobs list
//	parrot tasks list --owner 12345
//
// # Environment Variables
//
// The configuration file may reference environment variables as ${NAME} or
// ${NAME:-default}. Commonly:
//
//   - PARROT_CONFIG: Path to configuration file (default: parrot.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider keys
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// DefaultConfigPath is used when neither --config nor PARROT_CONFIG is set.
const DefaultConfigPath = "parrot.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parrot",
		Short: "Parrot - Telegram chat bot with tools",
		Long: `Parrot answers Telegram messages with an LLM that can search the web,
fetch pages, speak, browse, run background tasks and schedule jobs.

Supported LLM providers: Anthropic, OpenAI, Gemini`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildJobsCmd(),
		buildTasksCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath prefers an explicit path, then PARROT_CONFIG.
func resolveConfigPath(path string) string {
	if p := strings.TrimSpace(path); p != "" && p != DefaultConfigPath {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("PARROT_CONFIG")); env != "" {
		return env
	}
	return DefaultConfigPath
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parrot %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
