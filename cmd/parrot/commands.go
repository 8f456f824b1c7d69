package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Parrot bot",
		Long: `Start the bot with the configured providers, tools and channels.

The server will:
1. Load and validate configuration
2. Open storage and recover interrupted background tasks
3. Arm scheduled jobs
4. Start the HTTP server for health checks, metrics and webhooks
5. Start the Telegram adapter

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  parrot serve

  # Start with custom config and debug logging
  parrot serve --config /etc/parrot/parrot.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	var configPath string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tools exposed to the model after policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, resolveConfigPath(configPath))
		},
	}
	list.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to YAML configuration file")
	cmd.AddCommand(list)
	return cmd
}

// buildJobsCmd creates the "jobs" command group.
func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scheduled jobs",
	}
	var (
		configPath string
		owner      string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList(cmd, resolveConfigPath(configPath), owner)
		},
	}
	list.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to YAML configuration file")
	list.Flags().StringVar(&owner, "owner", "", "Only list jobs of this user id")

	runs := &cobra.Command{
		Use:   "runs [job-id]",
		Short: "Show recent job runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			return runJobsRuns(cmd, resolveConfigPath(configPath), jobID, limit)
		},
	}
	runs.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to YAML configuration file")
	runs.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show")

	cmd.AddCommand(list, runs)
	return cmd
}

// buildTasksCmd creates the "tasks" command group.
func buildTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect background tasks",
	}
	var (
		configPath string
		owner      string
		limit      int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List background tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksList(cmd, resolveConfigPath(configPath), owner, limit)
		},
	}
	list.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to YAML configuration file")
	list.Flags().StringVar(&owner, "owner", "", "Only list tasks of this user id")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum tasks to show")
	cmd.AddCommand(list)
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate configuration or print its JSON schema",
	}
	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to YAML configuration file")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}
	cmd.AddCommand(validate, schema)
	return cmd
}
