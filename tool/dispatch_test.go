package tool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/petal-labs/scribe/directive"
	"github.com/petal-labs/scribe/tool/mcp"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls []mcp.CallParams
	err   error
}

func (f *fakeRemote) Call(ctx context.Context, params mcp.CallParams) (mcp.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.err != nil {
		return mcp.CallResult{}, f.err
	}
	return mcp.CallResult{}, nil
}

func TestDispatchLocalWriteFile(t *testing.T) {
	dir := t.TempDir()
	dispatcher := NewDispatcher(DispatcherConfig{})

	target := filepath.Join(dir, "out", "a.txt")
	executed, err := dispatcher.Dispatch(context.Background(), []directive.Directive{
		{Action: "write_file", Args: map[string]any{"path": target, "content": "hi"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "hi" {
		t.Fatalf("content = %q, want hi", data)
	}
}

func TestDispatchForwardsUnknownActionToRemote(t *testing.T) {
	remote := &fakeRemote{}
	dispatcher := NewDispatcher(DispatcherConfig{Remote: remote})

	executed, err := dispatcher.Dispatch(context.Background(), []directive.Directive{
		{Action: "read_file", Args: map[string]any{"path": "a.txt"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}
	if len(remote.calls) != 1 {
		t.Fatalf("remote calls = %d, want 1", len(remote.calls))
	}
	if remote.calls[0].Name != "read_file" {
		t.Fatalf("forwarded name = %q, want read_file", remote.calls[0].Name)
	}
	if remote.calls[0].Arguments["path"] != "a.txt" {
		t.Fatalf("forwarded path = %v, want a.txt", remote.calls[0].Arguments["path"])
	}
}

func TestDispatchUnknownActionWithoutRemote(t *testing.T) {
	dispatcher := NewDispatcher(DispatcherConfig{})

	_, err := dispatcher.Dispatch(context.Background(), []directive.Directive{
		{Action: "read_file", Args: map[string]any{}},
	})
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("Dispatch() error = %v, want *DispatchError", err)
	}
	if dispatchErr.Code != CodeActionUnknown {
		t.Fatalf("code = %q, want %q", dispatchErr.Code, CodeActionUnknown)
	}
}

func TestDispatchFailsFastMidSequence(t *testing.T) {
	dir := t.TempDir()
	dispatcher := NewDispatcher(DispatcherConfig{})

	first := filepath.Join(dir, "first.txt")
	third := filepath.Join(dir, "third.txt")
	executed, err := dispatcher.Dispatch(context.Background(), []directive.Directive{
		{Action: "write_file", Args: map[string]any{"path": first, "content": "1"}},
		{Action: "write_file", Args: map[string]any{"content": "missing path"}},
		{Action: "write_file", Args: map[string]any{"path": third, "content": "3"}},
	})

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("Dispatch() error = %v, want *DispatchError", err)
	}
	if dispatchErr.Index != 1 {
		t.Fatalf("failing index = %d, want 1", dispatchErr.Index)
	}
	if dispatchErr.Action != "write_file" {
		t.Fatalf("failing action = %q, want write_file", dispatchErr.Action)
	}
	if executed != 1 {
		t.Fatalf("executed = %d, want 1", executed)
	}

	// The directive before the failure ran; the one after it must not have.
	if _, err := os.Stat(first); err != nil {
		t.Fatalf("first file missing: %v", err)
	}
	if _, err := os.Stat(third); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("third file state = %v, want not-exist", err)
	}
}

func TestDispatchMapsTransportErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		code string
	}{
		"not ready": {fmt.Errorf("call: %w", mcp.ErrNotReady), CodeNotReady},
		"timeout":   {fmt.Errorf("call: %w", mcp.ErrTimeout), CodeTimeout},
		"empty":     {fmt.Errorf("call: %w", mcp.ErrEmptyResponse), CodeEmptyResponse},
		"malformed": {fmt.Errorf("call: %w", mcp.ErrMalformedResponse), CodeMalformedResponse},
		"tool":      {&mcp.RPCError{Code: -32000, Message: "boom"}, CodeToolFailure},
		"other":     {errors.New("broken pipe"), CodeDispatchFailed},
	}

	for name, tc := range cases {
		remote := &fakeRemote{err: tc.err}
		dispatcher := NewDispatcher(DispatcherConfig{Remote: remote})

		_, err := dispatcher.Dispatch(context.Background(), []directive.Directive{
			{Action: "read_file", Args: map[string]any{}},
		})
		var dispatchErr *DispatchError
		if !errors.As(err, &dispatchErr) {
			t.Fatalf("%s: error = %v, want *DispatchError", name, err)
		}
		if dispatchErr.Code != tc.code {
			t.Fatalf("%s: code = %q, want %q", name, dispatchErr.Code, tc.code)
		}
	}
}

func TestDispatchRegisterLocalOverridesForwarding(t *testing.T) {
	remote := &fakeRemote{}
	dispatcher := NewDispatcher(DispatcherConfig{Remote: remote})

	var captured map[string]any
	dispatcher.RegisterLocal("read_file", func(ctx context.Context, args map[string]any) error {
		captured = args
		return nil
	})

	if _, err := dispatcher.Dispatch(context.Background(), []directive.Directive{
		{Action: "read_file", Args: map[string]any{"path": "a"}},
	}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if captured["path"] != "a" {
		t.Fatalf("local handler args = %v, want path=a", captured)
	}
	if len(remote.calls) != 0 {
		t.Fatalf("remote calls = %d, want 0", len(remote.calls))
	}
}
