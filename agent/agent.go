package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/scribe/directive"
	"github.com/petal-labs/scribe/gateway"
)

// Dispatcher executes a parsed directive sequence. It reports how many
// directives completed before any failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, directives []directive.Directive) (int, error)
}

// IterationError is the failure of one loop iteration. RawReply carries the
// model's original text so the failure can be reproduced; it is empty when
// the model call itself failed.
type IterationError struct {
	RunID     string
	Iteration int
	RawReply  string
	Err       error
}

func (e *IterationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agent: iteration %d failed: %v", e.Iteration, e.Err)
}

func (e *IterationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Config configures an agent loop.
type Config struct {
	Gateway    gateway.Client
	Dispatcher Dispatcher

	// Context seeds the evolving conversation/task state sent to the model.
	Context string

	// AppendResults, when set, appends a short record of each iteration's
	// executed directives to the context. Off by default: the context then
	// stays static across iterations.
	AppendResults bool

	Handlers []Handler
	Logger   *slog.Logger
	Now      func() time.Time
}

// Agent holds the evolving context and drives iterations of the loop.
// It is a single sequential driver: methods must not be called concurrently.
type Agent struct {
	gateway       gateway.Client
	dispatcher    Dispatcher
	context       string
	appendResults bool
	handlers      []Handler
	logger        *slog.Logger
	now           func() time.Time

	runID     string
	iteration int
	seq       uint64
}

// New creates an agent loop instance with a fresh run ID.
func New(cfg Config) (*Agent, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("agent: gateway is nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("agent: dispatcher is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Agent{
		gateway:       cfg.Gateway,
		dispatcher:    cfg.Dispatcher,
		context:       cfg.Context,
		appendResults: cfg.AppendResults,
		handlers:      cfg.Handlers,
		logger:        cfg.Logger,
		now:           cfg.Now,
		runID:         uuid.New().String(),
	}, nil
}

// RunID returns the identifier assigned to this agent run.
func (a *Agent) RunID() string {
	return a.runID
}

// Context returns the current context buffer.
func (a *Agent) Context() string {
	return a.context
}

// RunOnce drives one iteration: query the model with the current context,
// parse the reply, dispatch each resulting directive in order. The first
// unrecovered failure is returned as an *IterationError.
func (a *Agent) RunOnce(ctx context.Context) error {
	a.iteration++
	started := a.now()
	a.emit(EventIterationStarted, started, 0, nil)

	reply, err := a.gateway.Complete(ctx, a.context)
	if err != nil {
		return a.fail(started, "", err)
	}
	a.emit(EventModelCompleted, a.now(), a.now().Sub(started), map[string]any{
		"reply_chars": len(reply.Text),
	})

	directives, err := directive.Parse(reply.Text)
	if err != nil {
		return a.fail(started, reply.Text, err)
	}

	executed, err := a.dispatcher.Dispatch(ctx, directives)
	for i := 0; i < executed; i++ {
		a.emit(EventDirectiveDispatched, a.now(), a.now().Sub(started), map[string]any{
			"action": directives[i].Action,
			"index":  i,
		})
	}
	if err != nil {
		return a.fail(started, reply.Text, err)
	}

	a.emit(EventIterationFinished, a.now(), a.now().Sub(started), map[string]any{
		"directives": len(directives),
		"reply":      reply.Text,
	})

	if a.appendResults && executed > 0 {
		names := make([]string, 0, executed)
		for i := 0; i < executed; i++ {
			names = append(names, directives[i].Action)
		}
		a.context += fmt.Sprintf("\n[iteration %d] executed: %s",
			a.iteration, strings.Join(names, ", "))
	}
	return nil
}

// Run repeats RunOnce until ctx is canceled, waiting interval between
// iterations. A failed iteration is logged and the loop continues; there is
// no backoff and no circuit breaker.
func (a *Agent) Run(ctx context.Context, interval time.Duration) error {
	for {
		if err := a.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("iteration failed",
				"run_id", a.runID,
				"iteration", a.iteration,
				"error", err)
		} else {
			a.logger.Info("iteration finished",
				"run_id", a.runID,
				"iteration", a.iteration)
		}

		if interval <= 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (a *Agent) fail(started time.Time, raw string, err error) error {
	iterErr := &IterationError{
		RunID:     a.runID,
		Iteration: a.iteration,
		RawReply:  raw,
		Err:       err,
	}
	a.emit(EventIterationFailed, a.now(), a.now().Sub(started), map[string]any{
		"error": err.Error(),
		"reply": raw,
	})
	return iterErr
}

func (a *Agent) emit(kind EventKind, at time.Time, elapsed time.Duration, payload map[string]any) {
	if len(a.handlers) == 0 {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	a.seq++
	e := Event{
		Kind:      kind,
		RunID:     a.runID,
		Iteration: a.iteration,
		Seq:       a.seq,
		Time:      at,
		Elapsed:   elapsed,
		Payload:   payload,
	}
	for _, h := range a.handlers {
		h.Handle(e)
	}
}
