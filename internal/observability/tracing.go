package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names emitted by Parrot. An exchange span parents its model turn
// and tool spans; job fires are roots of their own.
const (
	SpanExchange  = "parrot.exchange"
	SpanModelTurn = "parrot.model_turn"
	SpanTool      = "parrot.tool"
	SpanJobFire   = "parrot.job_fire"
)

const defaultServiceName = "parrot"

// Tracer starts OpenTelemetry spans for exchanges, model turns, tool calls
// and job fires. A nil *Tracer is valid and produces non-recording spans,
// so components can hold one unconditionally.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    Endpoint: "localhost:4317",
//	})
//	defer shutdown(context.Background())
type Tracer struct {
	tracer trace.Tracer
}

// TraceConfig configures span export.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string

	// SamplingRate is the fraction of exchanges recorded, in (0, 1].
	// Zero means 1.
	SamplingRate float64

	// Attributes are added to the resource of every span.
	Attributes map[string]string

	// EnableInsecure dials the collector without TLS.
	EnableInsecure bool
}

func noShutdown(context.Context) error { return nil }

// NewTracer builds a Tracer and the function that flushes and stops it.
// Without an endpoint, or when the exporter cannot be created, spans are
// created but never exported.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noShutdown
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		slog.Default().Warn("trace exporter unavailable, spans will not be exported",
			"endpoint", config.Endpoint, "error", err)
		return &Tracer{tracer: otel.Tracer(config.ServiceName)}, noShutdown
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(traceResource(config)),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(config.SamplingRate))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Tracer{tracer: provider.Tracer(config.ServiceName)}, provider.Shutdown
}

func traceResource(config TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(defaultServiceName).Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// RecordError marks span as failed with err. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceExchange starts the span covering one inbound message.
func (t *Tracer) TraceExchange(ctx context.Context, channel, ownerID string) (context.Context, trace.Span) {
	return t.start(ctx, SpanExchange, trace.SpanKindServer,
		attribute.String("parrot.channel", channel),
		attribute.String("parrot.owner_id", ownerID),
	)
}

// TraceModelTurn starts the span for one call to a provider.
func (t *Tracer) TraceModelTurn(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.start(ctx, SpanModelTurn, trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
}

// TraceToolExecution starts the span for one tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.start(ctx, SpanTool, trace.SpanKindInternal, attribute.String("tool.name", toolName))
}

// TraceJobRun starts the span for one scheduled job fire.
func (t *Tracer) TraceJobRun(ctx context.Context, jobID, jobName string) (context.Context, trace.Span) {
	return t.start(ctx, SpanJobFire, trace.SpanKindInternal,
		attribute.String("job.id", jobID),
		attribute.String("job.name", jobName),
	)
}
