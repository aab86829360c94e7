// Package tool dispatches parsed directives to local capability handlers or
// forwards them to an external tool server, and defines the structured error
// taxonomy dispatch failures are reported with.
package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petal-labs/scribe/directive"
	"github.com/petal-labs/scribe/tool/mcp"
)

// Handler executes one local capability invocation.
type Handler func(ctx context.Context, args map[string]any) error

// RemoteCaller is the transport contract used for non-local actions.
// *mcp.StdioTransport satisfies it.
type RemoteCaller interface {
	Call(ctx context.Context, params mcp.CallParams) (mcp.CallResult, error)
}

// DispatcherConfig configures directive dispatch.
type DispatcherConfig struct {
	// Remote forwards actions outside the local capability set. When nil,
	// such actions fail with CodeActionUnknown.
	Remote RemoteCaller

	// WorkspaceRoot, when set, contains local write_file paths. Empty
	// preserves the historical behavior of honoring paths as-is.
	WorkspaceRoot string

	Logger *slog.Logger
}

// Dispatcher resolves each directive to a local capability handler or a
// remote tools/call, selected by a capability-set check.
type Dispatcher struct {
	local  map[string]Handler
	remote RemoteCaller
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher with the built-in local capability set.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		local: map[string]Handler{
			CapabilityWriteFile: WriteFileHandler(cfg.WorkspaceRoot),
		},
		remote: cfg.Remote,
		logger: logger,
	}
}

// RegisterLocal adds or replaces a local capability handler.
func (d *Dispatcher) RegisterLocal(action string, handler Handler) {
	d.local[action] = handler
}

// Dispatch executes directives in parsed order and fails fast: the first
// failing directive aborts the remainder of the sequence. It returns the
// number of directives that completed and, on failure, a *DispatchError
// identifying the failing action and its index.
func (d *Dispatcher) Dispatch(ctx context.Context, directives []directive.Directive) (int, error) {
	for i, dir := range directives {
		if err := d.dispatchOne(ctx, dir); err != nil {
			var dispatchErr *DispatchError
			if errors.As(err, &dispatchErr) {
				dispatchErr.Action = dir.Action
				dispatchErr.Index = i
				return i, dispatchErr
			}
			return i, &DispatchError{
				Code:   CodeDispatchFailed,
				Action: dir.Action,
				Index:  i,
				Cause:  err,
			}
		}
	}
	return len(directives), nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, dir directive.Directive) error {
	requestID := uuid.New().String()

	if handler, ok := d.local[dir.Action]; ok {
		d.logger.Debug("dispatching local action",
			"action", dir.Action,
			"request_id", requestID)
		return handler(ctx, dir.Args)
	}

	if d.remote == nil {
		return newDispatchError(CodeActionUnknown,
			fmt.Sprintf("action %q is not a local capability and no tool server is configured", dir.Action), nil)
	}

	d.logger.Debug("forwarding action to tool server",
		"action", dir.Action,
		"request_id", requestID)
	_, err := d.remote.Call(ctx, mcp.CallParams{
		Name:      dir.Action,
		Arguments: dir.Args,
	})
	if err != nil {
		return newDispatchError(codeForTransportError(err), "tool server call failed", err)
	}
	return nil
}

// codeForTransportError maps transport failure modes onto dispatch codes.
func codeForTransportError(err error) string {
	var rpcErr *mcp.RPCError
	switch {
	case errors.Is(err, mcp.ErrNotReady):
		return CodeNotReady
	case errors.Is(err, mcp.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, mcp.ErrEmptyResponse):
		return CodeEmptyResponse
	case errors.Is(err, mcp.ErrMalformedResponse):
		return CodeMalformedResponse
	case errors.As(err, &rpcErr):
		return CodeToolFailure
	default:
		return CodeDispatchFailed
	}
}
