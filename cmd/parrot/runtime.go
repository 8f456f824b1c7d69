package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/agent/providers"
	"github.com/haasonsaas/parrot/internal/channels/telegram"
	"github.com/haasonsaas/parrot/internal/config"
	"github.com/haasonsaas/parrot/internal/cron"
	"github.com/haasonsaas/parrot/internal/gateway"
	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/internal/tasks"
	"github.com/haasonsaas/parrot/internal/tools/background"
	"github.com/haasonsaas/parrot/internal/tools/browser"
	"github.com/haasonsaas/parrot/internal/tools/datetime"
	"github.com/haasonsaas/parrot/internal/tools/schedule"
	"github.com/haasonsaas/parrot/internal/tools/tts"
	"github.com/haasonsaas/parrot/internal/tools/webfetch"
	"github.com/haasonsaas/parrot/internal/tools/websearch"
	"github.com/haasonsaas/parrot/pkg/models"
)

// runtime holds every long-lived component of a serving process.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	store    storage.Store
	notifier *notifierRelay
	tasks    *tasks.Manager
	jobs     *cron.Manager
	catalog  *agent.Catalog
	loop     *agent.Loop
	service  *gateway.Service
	server   *gateway.Server
	telegram *telegram.Adapter
	browser  *browser.Pool

	closers []func(context.Context) error
}

var _ gateway.Runner = (*agent.Loop)(nil)

// notifierRelay forwards notifications to the messaging channel once it
// exists and logs them until then.
type notifierRelay struct {
	mu       sync.RWMutex
	target   outbound.Notifier
	fallback outbound.Notifier
}

func (r *notifierRelay) set(n outbound.Notifier) {
	r.mu.Lock()
	r.target = n
	r.mu.Unlock()
}

func (r *notifierRelay) Notify(ctx context.Context, recipient string, msg outbound.Message) error {
	r.mu.RLock()
	target := r.target
	r.mu.RUnlock()
	if target == nil {
		target = r.fallback
	}
	return target.Notify(ctx, recipient, msg)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := cfg.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:          level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactPatterns: cfg.RedactPatterns,
	})
}

// providerConfig maps a configured provider onto adapter settings.
func providerConfig(p config.LLMProviderConfig) providers.Config {
	return providers.Config{
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		DefaultModel:      p.DefaultModel,
		MaxTokens:         p.MaxTokens,
		EmbeddedToolCalls: p.EmbeddedToolCalls,
		Retry: providers.RetryPolicy{
			MaxRetries: p.MaxRetries,
			Delay:      p.RetryDelay,
		},
	}
}

// buildAdapters returns the primary adapter followed by the fallback chain.
func buildAdapters(cfg *config.Config) (agent.ProviderAdapter, []agent.ProviderAdapter, error) {
	primaryName := cfg.LLM.DefaultProvider
	primary, err := providers.New(primaryName, providerConfig(cfg.LLM.Providers[primaryName]))
	if err != nil {
		return nil, nil, fmt.Errorf("provider %s: %w", primaryName, err)
	}
	var fallbacks []agent.ProviderAdapter
	for _, name := range cfg.LLM.FallbackChain {
		if name == primaryName {
			continue
		}
		adapter, err := providers.New(name, providerConfig(cfg.LLM.Providers[name]))
		if err != nil {
			return nil, nil, fmt.Errorf("fallback provider %s: %w", name, err)
		}
		fallbacks = append(fallbacks, adapter)
	}
	return primary, fallbacks, nil
}

// baseTools builds the tools that need no managers. The browser pool is
// returned so the caller can close it.
func baseTools(cfg *config.Config) ([]agent.Tool, *browser.Pool) {
	fetcher := webfetch.NewFetcher(cfg.Tools.WebFetch, nil)
	tools := []agent.Tool{
		websearch.NewTool(cfg.Tools.WebSearch, websearch.WithFetcher(fetcher)),
		webfetch.NewTool(fetcher),
	}
	if cfg.Tools.TTS.Enabled {
		tools = append(tools, tts.NewTool(tts.NewSynthesizer(ttsConfig(cfg))))
	}
	var pool *browser.Pool
	if cfg.Tools.Browser.Enabled {
		pool = browser.NewPool(cfg.Tools.Browser.PoolConfig)
		tools = append(tools, browser.NewTool(browser.NewChromeDriver(pool), browser.ToolConfig{
			OutputDir: cfg.Tools.Browser.OutputDir,
		}))
	}
	format := datetime.ParseHourFormat(cfg.Tools.DateTime.HourFormat, datetime.Hour24)
	tools = append(tools, datetime.NewTool(cfg.Tools.DateTime.Timezone, format))
	return tools, pool
}

func ttsConfig(cfg *config.Config) tts.Config {
	c := cfg.Tools.TTS.Config
	if c.APIKey == "" {
		c.APIKey = cfg.LLM.Providers[providers.ProviderOpenAI].APIKey
	}
	return c
}

// buildCatalog applies the tool policy and builds the catalog.
func buildCatalog(cfg *config.Config, tools []agent.Tool) (*agent.Catalog, error) {
	pol := cfg.Tools.Policy.Policy
	return agent.NewCatalog(cfg.PolicyResolver().Apply(&pol, tools)...)
}

// newRuntime wires every component. Nothing is started.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = rt.close(context.Background())
		}
	}()

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = observability.NewMetrics(rt.registry)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	rt.tracer = tracer
	rt.closers = append(rt.closers, shutdownTracer)

	store, err := storage.Open(ctx, storage.SQLConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt.store = store
	rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })

	primary, fallbacks, err := buildAdapters(cfg)
	if err != nil {
		return nil, err
	}
	loopOpts := []agent.LoopOption{
		agent.WithFallbacks(fallbacks...),
		agent.WithLoopMetrics(rt.metrics),
		agent.WithLoopTracer(rt.tracer),
		agent.WithLoopLogger(logger),
	}
	loopConfig := agent.LoopConfig{MaxTurns: cfg.Agent.MaxTurns, SystemPrompt: cfg.Agent.SystemPrompt}

	// Background tasks are single-shot completions, so they get a loop
	// without tools. This also keeps tasks from spawning tasks.
	completions, err := agent.NewLoop(primary, agent.NewInvoker(agent.MustCatalog(), agent.InvokerConfig{}), loopConfig, loopOpts...)
	if err != nil {
		return nil, err
	}

	rt.notifier = &notifierRelay{fallback: outbound.LogNotifier{Logger: logger}}
	rt.tasks = tasks.NewManager(store, completions, rt.notifier, tasks.Config{
		MaxPerOwner:    cfg.Tasks.MaxPerOwner,
		DefaultTimeout: cfg.Tasks.DefaultTimeout,
		MaxTimeout:     cfg.Tasks.MaxTimeout,
		ResultMaxChars: cfg.Tasks.ResultMaxChars,
		RecentWindow:   cfg.Tasks.RecentWindow,
		Logger:         logger,
		Metrics:        rt.metrics,
	})
	rt.jobs = cron.NewManager(store, rt.notifier,
		cron.WithLogger(logger),
		cron.WithMetrics(rt.metrics),
		cron.WithTracer(rt.tracer),
		cron.WithRetryDelay(cfg.Cron.RetryDelay),
	)

	tools, pool := baseTools(cfg)
	rt.browser = pool
	tools = append(tools, schedule.NewTool(rt.jobs), background.NewTool(rt.tasks))
	rt.catalog, err = buildCatalog(cfg, tools)
	if err != nil {
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}
	invoker := agent.NewInvoker(rt.catalog, agent.InvokerConfig{
		MaxConcurrency: cfg.Agent.MaxToolConcurrency,
		Timeout:        cfg.Agent.ToolTimeout,
	},
		agent.WithInvokerMetrics(rt.metrics),
		agent.WithInvokerTracer(rt.tracer),
		agent.WithInvokerLogger(logger),
	)
	mediaOpts := append(slices.Clone(loopOpts), agent.WithMediaHook(func(ref models.MediaRef) {
		logger.Debug("tool produced media", "kind", ref.Kind, "path", ref.Path, "url", ref.URL)
	}))
	rt.loop, err = agent.NewLoop(primary, invoker, loopConfig, mediaOpts...)
	if err != nil {
		return nil, err
	}

	rt.service = gateway.NewService(rt.loop, store, gateway.Config{
		HistoryLimit: cfg.Agent.HistoryLimit,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Admins:       cfg.Admins,
		AllowedUsers: cfg.Telegram.AllowedUsers,
		Logger:       logger,
		Metrics:      rt.metrics,
		Tracer:       rt.tracer,
	},
		gateway.WithTasks(rt.tasks),
		gateway.WithJobs(rt.jobs),
		gateway.WithNotifier(rt.notifier),
	)

	rt.server = gateway.NewServer(gateway.ServerConfig{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.HTTPPort,
		Gatherer: rt.registry,
		Metrics:  rt.metrics,
		Logger:   logger,
	})

	if cfg.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(telegram.Config{
			Token:         cfg.Telegram.BotToken,
			Mode:          telegram.Mode(cfg.Telegram.Mode),
			WebhookURL:    cfg.Telegram.WebhookURL,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			Logger:        logger,
			Metrics:       rt.metrics,
		}, rt.service)
		if err != nil {
			return nil, err
		}
		rt.telegram = adapter
		rt.notifier.set(adapter)
		if adapter.Mode() == telegram.ModeWebhook {
			rt.server.Handle(cfg.Telegram.WebhookPath, adapter.WebhookHandler())
		}
	}
	return rt, nil
}

// start recovers persisted state and starts every component.
func (rt *runtime) start(ctx context.Context) error {
	if n, err := rt.tasks.Recover(ctx); err != nil {
		rt.logger.Warn("failed to recover background tasks", "error", err)
	} else if n > 0 {
		rt.logger.Info("marked interrupted background tasks", "count", n)
	}
	if err := rt.jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := rt.server.Start(); err != nil {
		return err
	}
	if rt.telegram != nil {
		if err := rt.telegram.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// shutdown stops components in reverse dependency order.
func (rt *runtime) shutdown(ctx context.Context) error {
	var errs []error
	if rt.telegram != nil {
		errs = append(errs, rt.telegram.Stop(ctx))
	}
	if rt.server != nil {
		errs = append(errs, rt.server.Shutdown(ctx))
	}
	if rt.jobs != nil {
		errs = append(errs, rt.jobs.Stop(ctx))
	}
	if rt.tasks != nil {
		errs = append(errs, rt.tasks.Shutdown(ctx))
	}
	errs = append(errs, rt.close(ctx))
	return errors.Join(errs...)
}

func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if rt.browser != nil {
		errs = append(errs, rt.browser.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	rt.closers = nil
	rt.browser = nil
	return errors.Join(errs...)
}
