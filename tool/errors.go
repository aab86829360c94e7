package tool

import (
	"fmt"
	"strings"
)

const (
	// CodeArgumentInvalid is returned when a directive is missing required
	// arguments or supplies them with the wrong type.
	CodeArgumentInvalid = "ARGUMENT_INVALID"
	// CodeActionUnknown is returned when an action is neither a local
	// capability nor forwardable to a tool server.
	CodeActionUnknown = "ACTION_UNKNOWN"
	// CodeNotReady is returned when the tool transport refuses a call.
	CodeNotReady = "NOT_READY"
	// CodeTimeout is returned when the tool server misses its response deadline.
	CodeTimeout = "TIMEOUT"
	// CodeEmptyResponse is returned when the tool server closes its output
	// stream instead of responding.
	CodeEmptyResponse = "EMPTY_RESPONSE"
	// CodeMalformedResponse is returned when the tool server response cannot
	// be decoded.
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	// CodeToolFailure is returned when the tool server reports an explicit
	// error for an otherwise completed exchange.
	CodeToolFailure = "TOOL_FAILURE"
	// CodeIO is returned when a local capability's filesystem side effect fails.
	CodeIO = "IO_FAILURE"
	// CodeDispatchFailed is a generic fallback for dispatch failures.
	CodeDispatchFailed = "DISPATCH_FAILED"
)

// DispatchError is a structured directive-execution error carrying a
// machine-readable code, the failing action, and its position in the
// dispatched sequence.
type DispatchError struct {
	Code    string
	Message string
	Action  string
	Index   int
	Cause   error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	if code == "" {
		code = CodeDispatchFailed
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		return code
	}
	return fmt.Sprintf("%s: %s", code, msg)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newDispatchError(code, message string, cause error) *DispatchError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = CodeDispatchFailed
	}
	return &DispatchError{
		Code:    cleanCode,
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}
