package otel_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/scribe/agent"
	scribeotel "github.com/petal-labs/scribe/otel"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func TestTracingHandlerIterationSpanLifecycle(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scribeotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(agent.Event{
		Kind:      agent.EventIterationStarted,
		RunID:     "run-1",
		Iteration: 1,
		Time:      now,
	})

	if sc := h.ActiveSpanContext("run-1", 1); !sc.IsValid() {
		t.Fatal("expected valid span context after iteration.started")
	}

	h.Handle(agent.Event{
		Kind:      agent.EventDirectiveDispatched,
		RunID:     "run-1",
		Iteration: 1,
		Time:      now.Add(20 * time.Millisecond),
		Payload:   map[string]any{"action": "write_file"},
	})
	h.Handle(agent.Event{
		Kind:      agent.EventIterationFinished,
		RunID:     "run-1",
		Iteration: 1,
		Time:      now.Add(40 * time.Millisecond),
		Elapsed:   40 * time.Millisecond,
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "iteration:1" {
		t.Fatalf("span name = %q, want iteration:1", span.Name)
	}
	if span.Status.Code != otelcodes.Ok {
		t.Fatalf("span status = %v, want Ok", span.Status.Code)
	}
	if len(span.Events) != 1 || span.Events[0].Name != "directive.dispatched" {
		t.Fatalf("span events = %+v, want one directive.dispatched event", span.Events)
	}

	if sc := h.ActiveSpanContext("run-1", 1); sc.IsValid() {
		t.Fatal("span context still active after iteration.finished")
	}
}

func TestTracingHandlerFailedIterationSetsErrorStatus(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scribeotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(agent.Event{Kind: agent.EventIterationStarted, RunID: "run-1", Iteration: 1, Time: now})
	h.Handle(agent.Event{
		Kind:      agent.EventIterationFailed,
		RunID:     "run-1",
		Iteration: 1,
		Time:      now.Add(time.Millisecond),
		Payload:   map[string]any{"error": "parse failed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error {
		t.Fatalf("span status = %v, want Error", spans[0].Status.Code)
	}
	if spans[0].Status.Description != "parse failed" {
		t.Fatalf("span status description = %q, want parse failed", spans[0].Status.Description)
	}
}

func TestTracingHandlerIgnoresEventsWithoutOpenSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := scribeotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(agent.Event{Kind: agent.EventIterationFinished, RunID: "run-1", Iteration: 9, Time: time.Now()})
	h.Handle(agent.Event{Kind: agent.EventModelCompleted, RunID: "run-1", Iteration: 9, Time: time.Now()})

	if spans := exporter.GetSpans(); len(spans) != 0 {
		t.Fatalf("spans = %d, want 0", len(spans))
	}
}
