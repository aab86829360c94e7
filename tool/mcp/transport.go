package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	defaultWarmup      = 2 * time.Second
	defaultCallTimeout = 5 * time.Second

	// Larger than bufio's default so tool responses carrying file payloads
	// do not trip the scanner token limit.
	maxResponseLine = 4 << 20
)

// Sentinel errors for transport failure modes. Callers match with errors.Is.
var (
	// ErrNotReady is returned when Call is issued before Init, after Close,
	// or after the transport has failed. No I/O is performed.
	ErrNotReady = errors.New("mcp: transport is not ready")

	// ErrSpawn is returned when the tool-server subprocess cannot be started.
	ErrSpawn = errors.New("mcp: tool server failed to start")

	// ErrTimeout is returned when no response line arrives within the call
	// deadline. The subprocess is presumed wedged and must not be reused.
	ErrTimeout = errors.New("mcp: timed out waiting for tool server response")

	// ErrEmptyResponse is returned when the subprocess output stream closes
	// or yields an empty line instead of a response.
	ErrEmptyResponse = errors.New("mcp: empty response from tool server")

	// ErrMalformedResponse is returned when a response line cannot be decoded
	// or carries a correlation id that does not match the request.
	ErrMalformedResponse = errors.New("mcp: malformed tool server response")
)

// State is the lifecycle state of a transport.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateReady         State = "ready"
	StateAwaiting      State = "awaiting_response"
	StateFailed        State = "failed"
)

// StdioTransportConfig configures a tool-server subprocess transport.
type StdioTransportConfig struct {
	Command string
	Args    []string
	Env     map[string]string

	// Warmup is how long Init waits after spawning before the transport is
	// Ready. Tool servers have no readiness handshake. Default 2s.
	Warmup time.Duration

	// CallTimeout bounds the wait for each response line. Default 5s.
	CallTimeout time.Duration

	Logger *slog.Logger
}

// StdioTransport owns one tool-server subprocess and performs strictly
// one request/response exchange at a time over its stdin/stdout pipes.
//
// The protocol has no request pipelining: a second Call must not be issued
// while one is in flight. The transport serializes callers with an internal
// mutex, but concurrent use remains outside the protocol contract and only
// queues callers, it does not interleave exchanges.
type StdioTransport struct {
	mu     sync.Mutex
	cfg    StdioTransportConfig
	state  State
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan []byte
	done   chan struct{}
	waitCh chan struct{}
	nextID int64
	logger *slog.Logger
}

// NewStdioTransport creates an uninitialized transport. No subprocess is
// spawned until Init.
func NewStdioTransport(cfg StdioTransportConfig) *StdioTransport {
	if cfg.Warmup <= 0 {
		cfg.Warmup = defaultWarmup
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		cfg:    cfg,
		state:  StateUninitialized,
		nextID: 1,
		logger: logger,
	}
}

// State reports the current lifecycle state.
func (t *StdioTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Init spawns the tool-server subprocess with piped stdin/stdout/stderr and
// waits the warm-up interval before declaring the transport Ready.
func (t *StdioTransport) Init(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateUninitialized {
		return fmt.Errorf("%w: init in state %q", ErrNotReady, t.state)
	}
	if strings.TrimSpace(t.cfg.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrSpawn)
	}
	t.state = StateStarting

	args := slices.Clone(t.cfg.Args)
	// #nosec G204 -- command/args come from explicit local configuration.
	cmd := exec.Command(t.cfg.Command, args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), flattenEnv(t.cfg.Env)...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.state = StateFailed
		return fmt.Errorf("%w: open stdin: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.state = StateFailed
		return fmt.Errorf("%w: open stdout: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.state = StateFailed
		return fmt.Errorf("%w: open stderr: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		t.state = StateFailed
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.lines = make(chan []byte, 1)
	t.done = make(chan struct{})
	t.waitCh = make(chan struct{})

	go t.readLoop(stdout)
	go t.waitLoop(stderr)

	// No readiness handshake exists; give the server a fixed interval to
	// come up before the first request.
	warmup := time.NewTimer(t.cfg.Warmup)
	defer warmup.Stop()
	select {
	case <-warmup.C:
	case <-ctx.Done():
		t.teardownLocked()
		t.state = StateFailed
		return fmt.Errorf("mcp: init canceled: %w", ctx.Err())
	}

	t.state = StateReady
	t.logger.Debug("tool server ready",
		"command", t.cfg.Command,
		"warmup", t.cfg.Warmup)
	return nil
}

// Call performs one tools/call exchange: one request line out, one response
// line back, bounded by the call deadline. Valid only while Ready.
func (t *StdioTransport) Call(ctx context.Context, params CallParams) (CallResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateReady {
		return CallResult{}, fmt.Errorf("%w: call in state %q", ErrNotReady, t.state)
	}

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return CallResult{}, fmt.Errorf("mcp: encode params: %w", err)
	}
	id := t.nextID
	t.nextID++
	request := Message{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  MethodToolsCall,
		Params:  paramsRaw,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return CallResult{}, fmt.Errorf("mcp: encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.stdin.Write(data); err != nil {
		t.state = StateFailed
		return CallResult{}, fmt.Errorf("mcp: write request: %w", err)
	}
	t.state = StateAwaiting

	deadline := time.NewTimer(t.cfg.CallTimeout)
	defer deadline.Stop()

	select {
	case line, ok := <-t.lines:
		if !ok || len(bytes.TrimSpace(line)) == 0 {
			t.state = StateFailed
			return CallResult{}, fmt.Errorf("%w: request id %d", ErrEmptyResponse, id)
		}
		return t.decodeResponse(line, id)
	case <-deadline.C:
		t.state = StateFailed
		return CallResult{}, fmt.Errorf("%w: after %s", ErrTimeout, t.cfg.CallTimeout)
	case <-ctx.Done():
		// A response may still arrive for this request; the exchange is no
		// longer in lockstep, so the transport cannot be reused.
		t.state = StateFailed
		return CallResult{}, fmt.Errorf("mcp: call canceled: %w", ctx.Err())
	}
}

func (t *StdioTransport) decodeResponse(line []byte, id int64) (CallResult, error) {
	var response Message
	if err := json.Unmarshal(line, &response); err != nil {
		t.state = StateFailed
		return CallResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if response.ID != 0 && response.ID != id {
		t.state = StateFailed
		return CallResult{}, fmt.Errorf("%w: response id %d for request id %d",
			ErrMalformedResponse, response.ID, id)
	}
	if response.Error != nil {
		// The exchange completed; the server reported a tool failure but the
		// stream is still in lockstep.
		t.state = StateReady
		return CallResult{}, response.Error
	}
	t.state = StateReady
	return CallResult{Raw: response.Result}, nil
}

// Close forcibly terminates the subprocess if it is still alive and reaps it.
// There is no graceful shutdown handshake. Close is idempotent and safe in
// every state.
func (t *StdioTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateUninitialized || t.cmd == nil {
		t.state = StateFailed
		return nil
	}
	waitCh := t.waitCh
	t.teardownLocked()
	t.state = StateFailed

	if waitCh != nil {
		select {
		case <-waitCh:
		case <-ctx.Done():
			return fmt.Errorf("mcp: close: %w", ctx.Err())
		}
	}
	return nil
}

func (t *StdioTransport) teardownLocked() {
	if t.done != nil {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
	if t.stdin != nil {
		_ = t.stdin.Close()
		t.stdin = nil
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxResponseLine)
	for scanner.Scan() {
		line := slices.Clone(scanner.Bytes())
		select {
		case t.lines <- line:
		case <-t.done:
			return
		}
	}
}

func (t *StdioTransport) waitLoop(stderr io.Reader) {
	defer close(t.waitCh)

	// Tool servers log to stderr; drain it so the pipe never backs up.
	_, _ = io.Copy(io.Discard, stderr)

	if err := t.cmd.Wait(); err != nil {
		t.logger.Debug("tool server exited", "error", err)
	}
}

func flattenEnv(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(values))
	for _, key := range keys {
		out = append(out, key+"="+values[key])
	}
	return out
}
