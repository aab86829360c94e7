// Package otel provides OpenTelemetry integration for scribe agent events.
package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/scribe/agent"
)

// TracingHandler translates agent loop events into OpenTelemetry spans:
// one span per iteration, with model and directive activity recorded as
// span events.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.RWMutex
	spans map[string]trace.Span // runID:iteration -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Handle processes an agent event and creates or ends spans accordingly.
// It implements agent.Handler.
func (h *TracingHandler) Handle(e agent.Event) {
	switch e.Kind {
	case agent.EventIterationStarted:
		h.handleStarted(e)
	case agent.EventModelCompleted, agent.EventDirectiveDispatched:
		h.handleActivity(e)
	case agent.EventIterationFailed:
		h.handleEnded(e, codes.Error)
	case agent.EventIterationFinished:
		h.handleEnded(e, codes.Ok)
	}
}

// ActiveSpanContext returns the span context for an in-flight iteration.
// The zero SpanContext is returned when none is active.
func (h *TracingHandler) ActiveSpanContext(runID string, iteration int) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.spans[spanKey(runID, iteration)]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func (h *TracingHandler) handleStarted(e agent.Event) {
	_, span := h.tracer.Start(context.Background(),
		fmt.Sprintf("iteration:%d", e.Iteration),
		trace.WithAttributes(
			attribute.String("scribe.run_id", e.RunID),
			attribute.Int("scribe.iteration", e.Iteration),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.spans[spanKey(e.RunID, e.Iteration)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleActivity(e agent.Event) {
	h.mu.RLock()
	span, ok := h.spans[spanKey(e.RunID, e.Iteration)]
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := make([]attribute.KeyValue, 0, 2)
	if action, ok := e.Payload["action"].(string); ok {
		attrs = append(attrs, attribute.String("scribe.action", action))
	}
	if chars, ok := e.Payload["reply_chars"].(int); ok {
		attrs = append(attrs, attribute.Int("scribe.reply_chars", chars))
	}
	span.AddEvent(e.Kind.String(),
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(attrs...),
	)
}

func (h *TracingHandler) handleEnded(e agent.Event, status codes.Code) {
	key := spanKey(e.RunID, e.Iteration)

	h.mu.Lock()
	span, ok := h.spans[key]
	if ok {
		delete(h.spans, key)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if status == codes.Error {
		message := ""
		if errText, ok := e.Payload["error"].(string); ok {
			message = errText
		}
		span.SetStatus(codes.Error, message)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func spanKey(runID string, iteration int) string {
	return fmt.Sprintf("%s:%d", runID, iteration)
}
