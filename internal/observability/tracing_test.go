package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "parrot-test"})
	if tracer == nil {
		t.Fatal("NewTracer() returned nil tracer")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown() error = %v", err)
		}
	}()

	ctx, span := tracer.TraceToolExecution(context.Background(), "web_search")
	tracer.RecordError(span, errors.New("boom"))
	span.End()
	if ctx == nil {
		t.Fatal("expected context")
	}
}

func TestNilTracerStart(t *testing.T) {
	var tracer *Tracer
	_, span := tracer.TraceJobRun(context.Background(), "j1", "standup")
	if span.IsRecording() {
		t.Error("nil tracer span should not record")
	}
	span.End()
}

func TestTracerSpanNamesAndParenting(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := &Tracer{tracer: provider.Tracer("test")}

	ctx, exchange := tracer.TraceExchange(context.Background(), "telegram", "42")
	_, turn := tracer.TraceModelTurn(ctx, "openai", "gpt-4o")
	tracer.RecordError(turn, errors.New("rate limited"))
	turn.End()
	exchange.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name() != SpanModelTurn || spans[1].Name() != SpanExchange {
		t.Fatalf("span names = %s, %s", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("model turn span should be a child of the exchange span")
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("model turn status = %v, want error", spans[0].Status().Code)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}
}
