// Package mcp implements the line-delimited JSON-RPC protocol spoken by
// external tool-server subprocesses, and the stdio transport that owns one
// such subprocess.
package mcp

import (
	"encoding/json"
	"fmt"
)

const jsonRPCVersion = "2.0"

// MethodToolsCall is the JSON-RPC method for invoking a named tool.
const MethodToolsCall = "tools/call"

// Message is a JSON-RPC 2.0 envelope. One message per line in each direction.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object returned by the tool server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// CallParams is the params payload of a tools/call request.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallResult is the decoded result of a successful tools/call exchange.
// The core does not interpret tool-specific payloads; Raw is kept for
// logging and diagnostics only.
type CallResult struct {
	Raw json.RawMessage
}
