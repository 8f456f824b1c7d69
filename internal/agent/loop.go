package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/pkg/models"
)

// MaxTurnsLimit is the hard ceiling on model turns per exchange.
const MaxTurnsLimit = 10

// LoopConfig configures the agent loop.
type LoopConfig struct {
	// MaxTurns limits model turns per exchange
	// Default and maximum: 10
	MaxTurns int

	// SystemPrompt is used when a request carries no system text
	SystemPrompt string
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	if cfg.MaxTurns <= 0 || cfg.MaxTurns > MaxTurnsLimit {
		cfg.MaxTurns = MaxTurnsLimit
	}
	return cfg
}

// Result is the outcome of one exchange. Run never fails; backend failures
// are reported through Failure with an apologetic Text.
type Result struct {
	Text      string
	Media     []models.MediaRef
	Turns     int
	ToolCalls int
	Provider  string
	Failure   FailureKind
	Exhausted bool
}

// Loop drives one exchange as a state machine:
//
//	AWAITING_MODEL ──calls──▶ EXECUTING_TOOLS ──results──▶ AWAITING_MODEL
//	      │
//	      └──final text or budget exhausted──▶ DONE
//
// Adapters form an ordered chain. When the model call fails before any tool
// result has been appended, and the request carries no media, the exchange
// restarts from scratch on the next adapter.
type Loop struct {
	adapters  []ProviderAdapter
	invoker   *Invoker
	config    LoopConfig
	mediaHook MediaHook
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithFallbacks appends adapters tried, in order, after the primary fails.
func WithFallbacks(adapters ...ProviderAdapter) LoopOption {
	return func(l *Loop) {
		for _, a := range adapters {
			if a != nil {
				l.adapters = append(l.adapters, a)
			}
		}
	}
}

// WithMediaHook registers a callback for media produced during a run.
func WithMediaHook(hook MediaHook) LoopOption {
	return func(l *Loop) { l.mediaHook = hook }
}

// WithLoopMetrics records model call and exchange metrics.
func WithLoopMetrics(m *observability.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithLoopTracer opens a span per model call.
func WithLoopTracer(t *observability.Tracer) LoopOption {
	return func(l *Loop) { l.tracer = t }
}

// WithLoopLogger sets the logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a loop over primary and invoker.
func NewLoop(primary ProviderAdapter, invoker *Invoker, config LoopConfig, opts ...LoopOption) (*Loop, error) {
	if primary == nil {
		return nil, ErrNoProvider
	}
	if invoker == nil {
		invoker = NewInvoker(MustCatalog(), InvokerConfig{})
	}
	l := &Loop{
		adapters: []ProviderAdapter{primary},
		invoker:  invoker,
		config:   sanitizeLoopConfig(config),
		logger:   slog.Default().With("component", "agent"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Providers returns adapter names in chain order.
func (l *Loop) Providers() []string {
	names := make([]string, 0, len(l.adapters))
	for _, a := range l.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Run executes one exchange.
func (l *Loop) Run(ctx context.Context, req *Request, inv *Invocation) *Result {
	if req == nil {
		req = &Request{}
	}
	prepared := *req
	if prepared.System == "" {
		prepared.System = l.config.SystemPrompt
	}
	if inv == nil {
		inv = &Invocation{}
	}

	var result *Result
	for idx, adapter := range l.adapters {
		var advanced bool
		var err error
		if idx > 0 {
			// A model override names a model of the primary provider.
			prepared.Model = ""
		}
		result, advanced, err = l.runOn(ctx, adapter, &prepared, inv)
		if err == nil {
			break
		}

		kind := ClassifyFailure(err)
		l.metrics.RecordError("agent", string(kind))
		last := idx == len(l.adapters)-1
		if advanced || prepared.HasMedia() || last || ctx.Err() != nil {
			l.logger.Error("exchange failed", "provider", adapter.Name(), "failure", kind, "error", err)
			result.Text = UserMessage(kind)
			result.Failure = kind
			break
		}

		next := l.adapters[idx+1].Name()
		l.logger.Warn("provider failed, restarting exchange on fallback",
			"provider", adapter.Name(), "fallback", next, "failure", kind, "error", err)
		l.metrics.RecordFallback(adapter.Name(), next)
	}

	l.metrics.RecordExchange(result.Turns)
	return result
}

// runOn runs the exchange on one adapter. advanced reports whether any tool
// result was appended to the conversation before it failed.
func (l *Loop) runOn(ctx context.Context, adapter ProviderAdapter, req *Request, inv *Invocation) (result *Result, advanced bool, err error) {
	result = &Result{Provider: adapter.Name()}
	fail := func(phase LoopPhase, turn int, cause error) (*Result, bool, error) {
		return result, advanced, &LoopError{Phase: phase, Turn: turn, Provider: adapter.Name(), Cause: cause}
	}

	var tools ToolDeclarations
	if defs := l.invoker.Catalog().List(); len(defs) > 0 {
		tools, err = adapter.EncodeTools(defs)
		if err != nil {
			return fail(PhaseAwaitingModel, 0, err)
		}
	}
	conv, err := adapter.NewConversation(req)
	if err != nil {
		return fail(PhaseAwaitingModel, 0, err)
	}

	var partial string
	for turn := 1; turn <= l.config.MaxTurns; turn++ {
		result.Turns = turn

		modelTurn, err := l.sendTurn(ctx, adapter, conv, tools, req.Model)
		if err != nil {
			return fail(PhaseAwaitingModel, turn, err)
		}
		if modelTurn.Text != "" && modelTurn.Text != NoResponseText {
			partial = modelTurn.Text
		}
		if !modelTurn.HasCalls() {
			result.Text = NoResponseText
			if modelTurn.FinalText != nil {
				result.Text = *modelTurn.FinalText
			}
			return result, advanced, nil
		}

		if err := adapter.AppendModelTurn(conv, modelTurn); err != nil {
			return fail(PhaseExecutingTools, turn, err)
		}
		results := l.invoker.ExecuteAll(ctx, modelTurn.Calls, inv)
		for i := range results {
			content, ref := extractMedia(results[i].Content)
			results[i].Content = content
			if ref != nil {
				result.Media = append(result.Media, *ref)
				if l.mediaHook != nil {
					l.mediaHook(*ref)
				}
			}
		}
		result.ToolCalls += len(results)
		if err := adapter.AppendToolResults(conv, results); err != nil {
			return fail(PhaseExecutingTools, turn, err)
		}
		advanced = true
	}

	result.Exhausted = true
	result.Text = partial
	if result.Text == "" {
		result.Text = NoResponseText
	}
	l.logger.Warn("turn budget exhausted",
		"error", &LoopError{Phase: PhaseDone, Turn: result.Turns, Provider: adapter.Name(), Cause: ErrMaxTurns},
		"tool_calls", result.ToolCalls)
	return result, advanced, nil
}

func (l *Loop) sendTurn(ctx context.Context, adapter ProviderAdapter, conv Conversation, tools ToolDeclarations, model string) (*ModelTurn, error) {
	label := model
	if label == "" {
		label = "default"
	}
	ctx, span := l.tracer.TraceModelTurn(ctx, adapter.Name(), label)
	defer span.End()

	start := time.Now()
	turn, err := adapter.SendTurn(ctx, conv, tools)
	status := "success"
	if err != nil {
		status = "error"
		l.tracer.RecordError(span, err)
	}
	l.metrics.RecordLLMRequest(adapter.Name(), label, status, time.Since(start).Seconds())
	if err == nil && turn == nil {
		turn = NewFinalTurn(nil, "")
	}
	return turn, err
}

// Complete runs a single tool-less model call, falling back along the
// adapter chain on failure. model applies to the primary adapter only;
// fallbacks use their configured defaults.
func (l *Loop) Complete(ctx context.Context, prompt, model string) (string, error) {
	var errs []error
	for idx, adapter := range l.adapters {
		m := model
		if idx > 0 {
			m = ""
		}
		text, err := SingleShot(ctx, adapter, prompt, m)
		if err == nil {
			return text, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		if idx < len(l.adapters)-1 {
			l.logger.Warn("single-shot call failed, trying fallback",
				"provider", adapter.Name(), "failure", ClassifyFailure(err), "error", err)
			l.metrics.RecordFallback(adapter.Name(), l.adapters[idx+1].Name())
		}
	}
	return "", errors.Join(errs...)
}
