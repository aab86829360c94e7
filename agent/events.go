// Package agent drives the autonomous loop: query the model, parse its reply
// into directives, dispatch each directive, repeat.
package agent

import "time"

// EventKind identifies the type of event emitted by the loop.
type EventKind string

const (
	// EventIterationStarted is emitted when an iteration begins.
	EventIterationStarted EventKind = "iteration.started"

	// EventModelCompleted is emitted when the model returned a reply.
	EventModelCompleted EventKind = "model.completed"

	// EventDirectiveDispatched is emitted for each directive that executed.
	EventDirectiveDispatched EventKind = "directive.dispatched"

	// EventIterationFailed is emitted when an iteration ends in failure.
	EventIterationFailed EventKind = "iteration.failed"

	// EventIterationFinished is emitted when an iteration completes.
	EventIterationFinished EventKind = "iteration.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during a loop run.
// Payloads should stay small; the raw model reply only appears on terminal
// iteration events, where it is the diagnostic of record.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this agent run.
	RunID string

	// Iteration is the 1-indexed loop iteration the event belongs to.
	Iteration int

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the iteration started.
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// Handler receives loop events. Handlers must not block; slow consumers
// should buffer on their own side.
type Handler interface {
	Handle(e Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(e Event)

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) {
	f(e)
}
