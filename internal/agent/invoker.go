package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/haasonsaas/parrot/internal/observability"
)

// InvokerConfig configures tool execution limits.
type InvokerConfig struct {
	// MaxConcurrency limits the number of parallel tool executions
	// Default: 4
	MaxConcurrency int

	// Timeout bounds a single tool call
	// Default: 60s
	Timeout time.Duration
}

// DefaultInvokerConfig returns the default invoker configuration.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxConcurrency: 4,
		Timeout:        60 * time.Second,
	}
}

// Invoker runs tool calls against a Catalog. It never returns an error:
// every failure mode becomes a structured error payload string.
type Invoker struct {
	catalog *Catalog
	config  InvokerConfig
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// InvokerOption customizes an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerMetrics records per-tool counters and latencies.
func WithInvokerMetrics(m *observability.Metrics) InvokerOption {
	return func(i *Invoker) { i.metrics = m }
}

// WithInvokerTracer opens a span per tool call.
func WithInvokerTracer(t *observability.Tracer) InvokerOption {
	return func(i *Invoker) { i.tracer = t }
}

// WithInvokerLogger sets the logger.
func WithInvokerLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) { i.logger = l }
}

// NewInvoker creates an Invoker over catalog.
func NewInvoker(catalog *Catalog, config InvokerConfig, opts ...InvokerOption) *Invoker {
	defaults := DefaultInvokerConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	inv := &Invoker{
		catalog: catalog,
		config:  config,
		logger:  slog.Default().With("component", "invoker"),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Catalog returns the catalog the invoker executes against.
func (i *Invoker) Catalog() *Catalog {
	return i.catalog
}

// Execute runs one call and returns its result text.
func (i *Invoker) Execute(ctx context.Context, call ToolCall, inv *Invocation) string {
	start := time.Now()
	content, err := i.execute(ctx, call, inv)

	status := "success"
	if err != nil {
		status = "error"
		content = payloadFor(err)
		i.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", err)
	} else {
		i.logger.Debug("tool call completed", "tool", call.Name, "call_id", call.ID, "duration", time.Since(start))
	}
	i.metrics.RecordToolExecution(call.Name, status, time.Since(start).Seconds())
	return content
}

// ConcurrentTool is implemented by tools whose calls do not depend on
// in-process state other calls in the same step may change.
type ConcurrentTool interface {
	ConcurrentSafe() bool
}

// IsConcurrentSafe reports whether tool opted in to parallel execution.
func IsConcurrentSafe(tool Tool) bool {
	c, ok := tool.(ConcurrentTool)
	return ok && c.ConcurrentSafe()
}

// ExecuteAll runs the calls of one step and returns results in the same
// order as calls. When every call targets a concurrency-safe tool they run
// in parallel, at most MaxConcurrency at a time; otherwise the step runs
// sequentially in request order.
func (i *Invoker) ExecuteAll(ctx context.Context, calls []ToolCall, inv *Invocation) []ToolResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]ToolResult, len(calls))
	run := func(idx int) {
		call := calls[idx]
		results[idx] = ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: i.Execute(ctx, call, inv),
		}
	}

	if len(calls) == 1 || i.config.MaxConcurrency == 1 || !i.parallelizable(calls) {
		for idx := range calls {
			run(idx)
		}
		return results
	}

	sem := make(chan struct{}, i.config.MaxConcurrency)
	var wg sync.WaitGroup
	for idx := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer func() {
				<-sem
				wg.Done()
			}()
			run(idx)
		}(idx)
	}
	wg.Wait()
	return results
}

// parallelizable reports whether every call may run alongside the others.
// Unknown tools only produce a not_found payload and never block it.
func (i *Invoker) parallelizable(calls []ToolCall) bool {
	for _, call := range calls {
		tool, ok := i.catalog.Lookup(call.Name)
		if ok && !IsConcurrentSafe(tool) {
			return false
		}
	}
	return true
}

func (i *Invoker) execute(ctx context.Context, call ToolCall, inv *Invocation) (string, error) {
	tool, ok := i.catalog.Lookup(call.Name)
	if !ok {
		return "", NewToolError(ToolErrorNotFound, fmt.Sprintf("tool not found: %s", call.Name)).
			WithTool(call.Name).
			WithCause(ErrToolNotFound)
	}
	if len(call.Arguments) > MaxToolArgsSize {
		return "", Errorf(ToolErrorInvalidArguments, "arguments exceed %d bytes", MaxToolArgsSize).WithTool(call.Name)
	}
	if err := i.catalog.validate(call.Name, call.Arguments); err != nil {
		return "", NewToolError(ToolErrorInvalidArguments, err.Error()).WithTool(call.Name).WithCause(err)
	}
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	if err := ctx.Err(); err != nil {
		return "", NewToolError(ToolErrorTimeout, "cancelled before start").WithTool(call.Name).WithCause(err)
	}

	ctx, span := i.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	content, err := i.executeWithTimeout(ctx, tool, args, inv)
	if err != nil {
		i.tracer.RecordError(span, err)
	}
	return content, err
}

func (i *Invoker) executeWithTimeout(ctx context.Context, tool Tool, args json.RawMessage, inv *Invocation) (string, error) {
	execCtx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	type execResult struct {
		content string
		err     error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("tool panicked", "tool", tool.Name(), "panic", r, "stack", string(debug.Stack()))
				resultCh <- execResult{err: NewToolError(ToolErrorPanic, fmt.Sprintf("tool crashed: %v", r)).
					WithTool(tool.Name()).
					WithCause(ErrToolPanic)}
			}
		}()
		content, err := tool.Execute(execCtx, args, inv)
		resultCh <- execResult{content: content, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && execCtx.Err() != nil && ctx.Err() == nil {
			return "", timeoutError(tool.Name(), i.config.Timeout)
		}
		return res.content, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return "", NewToolError(ToolErrorTimeout, "context cancelled").WithTool(tool.Name()).WithCause(ctx.Err())
		}
		return "", timeoutError(tool.Name(), i.config.Timeout)
	}
}

func timeoutError(name string, timeout time.Duration) *ToolError {
	return NewToolError(ToolErrorTimeout, fmt.Sprintf("execution timed out after %s", timeout)).
		WithTool(name).
		WithCause(ErrToolTimeout)
}
