package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/parrot/internal/config"
	"github.com/haasonsaas/parrot/internal/cron"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/internal/tools/background"
	"github.com/haasonsaas/parrot/internal/tools/policy"
	"github.com/haasonsaas/parrot/internal/tools/schedule"
)

// runServe loads configuration, starts every component and blocks until
// a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	logger.Info("starting Parrot",
		"version", version,
		"commit", commit,
		"config", configPath,
		"llm_provider", cfg.LLM.DefaultProvider,
		"fallbacks", cfg.LLM.FallbackChain,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	if err := rt.start(ctx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		_ = rt.shutdown(shutdownCtx)
		return err
	}
	logger.Info("Parrot started",
		"http_addr", rt.server.Addr(),
		"tools", rt.catalog.Names(),
		"telegram", rt.telegram != nil,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := rt.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Parrot stopped")
	return nil
}

func runToolsList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	tools, pool := baseTools(cfg)
	if pool != nil {
		defer pool.Close()
	}
	// Managers are not needed to describe the tools.
	tools = append(tools, schedule.NewTool(nil), background.NewTool(nil))
	catalog, err := buildCatalog(cfg, tools)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACCESS\tDESCRIPTION")
	for _, name := range catalog.Names() {
		tool, _ := catalog.Lookup(name)
		access := "everyone"
		if policy.IsAdminGuarded(tool) {
			access = "admins"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, access, outbound.Truncate(tool.Description(), 80))
	}
	return w.Flush()
}

// openStore opens the configured database for read-only inspection.
func openStore(ctx context.Context, configPath string) (storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, storage.SQLConfig{
		URL:            cfg.Database.URL,
		MaxOpenConns:   2,
		MaxIdleConns:   1,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
}

func runJobsList(cmd *cobra.Command, configPath, owner string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.ListJobs(ctx, owner)
	if err != nil {
		return err
	}
	now := time.Now()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tNAME\tSCHEDULE\tENABLED\tRUNS\tLAST\tNEXT")
	for _, job := range jobs {
		next := "-"
		if job.Enabled {
			if sched, err := cron.ParseSchedule(job.ScheduleExpression, job.Timezone); err == nil {
				if t := sched.Next(now); !t.IsZero() {
					next = t.Format(time.RFC3339)
				}
			}
		}
		last := "-"
		if job.LastRunAt != nil {
			last = fmt.Sprintf("%s (%s)", job.LastRunAt.Format(time.RFC3339), job.LastStatus)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
			job.ID, job.OwnerID, job.Name, job.ScheduleExpression, job.Enabled, job.RunCount, last, next)
	}
	return w.Flush()
}

func runJobsRuns(cmd *cobra.Command, configPath, jobID string, limit int) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := cron.NewManager(store, outbound.LogNotifier{}).ListRuns(ctx, jobID, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tNAME\tSTARTED\tDURATION\tSTATUS\tERROR")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.JobID, run.JobName, run.StartedAt.Format(time.RFC3339),
			run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond), run.Status, outbound.Truncate(run.Error, 60))
	}
	return w.Flush()
}

func runTasksList(cmd *cobra.Command, configPath, owner string, limit int) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.ListTasks(ctx, storage.TaskFilter{OwnerID: owner, Limit: limit})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tLABEL\tSTATUS\tCREATED\tRESULT")
	for _, task := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			task.ID, task.OwnerID, task.Label, task.Status,
			task.CreatedAt.Format(time.RFC3339), outbound.Truncate(task.ResultText, 60))
	}
	return w.Flush()
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if _, err := buildCatalog(cfg, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid (provider %s, telegram enabled: %t)\n",
		configPath, cfg.LLM.DefaultProvider, cfg.Telegram.Enabled)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}
