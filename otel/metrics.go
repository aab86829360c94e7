package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/scribe/agent"
)

// MetricsHandler translates agent loop events into OpenTelemetry metrics.
type MetricsHandler struct {
	iterations metric.Int64Counter
	failures   metric.Int64Counter
	directives metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetricsHandler creates a MetricsHandler bound to the given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	iterations, err := meter.Int64Counter("scribe.iterations",
		metric.WithDescription("Number of agent loop iterations"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("scribe.iteration.failures",
		metric.WithDescription("Number of failed agent loop iterations"),
	)
	if err != nil {
		return nil, err
	}

	directives, err := meter.Int64Counter("scribe.directives.dispatched",
		metric.WithDescription("Number of dispatched directives"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("scribe.iteration.duration",
		metric.WithDescription("Duration of agent loop iterations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		iterations: iterations,
		failures:   failures,
		directives: directives,
		duration:   duration,
	}, nil
}

// Handle processes an agent event and records the appropriate metrics.
// It implements agent.Handler.
func (h *MetricsHandler) Handle(e agent.Event) {
	ctx := context.Background()
	runAttrs := metric.WithAttributes(attribute.String("run_id", e.RunID))

	switch e.Kind {
	case agent.EventIterationFinished:
		h.iterations.Add(ctx, 1, runAttrs)
		h.duration.Record(ctx, e.Elapsed.Seconds(), runAttrs)
	case agent.EventIterationFailed:
		h.iterations.Add(ctx, 1, runAttrs)
		h.failures.Add(ctx, 1, runAttrs)
		h.duration.Record(ctx, e.Elapsed.Seconds(), runAttrs)
	case agent.EventDirectiveDispatched:
		action, _ := e.Payload["action"].(string)
		h.directives.Add(ctx, 1, metric.WithAttributes(
			attribute.String("run_id", e.RunID),
			attribute.String("action", action),
		))
	}
}
