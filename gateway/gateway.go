// Package gateway reaches generative model completion endpoints and returns
// their raw text replies.
package gateway

import (
	"context"
	"errors"
)

// Sentinel errors for completion failure modes.
var (
	// ErrUpstream is returned when the completion request itself fails:
	// transport errors and non-success status codes.
	ErrUpstream = errors.New("gateway: upstream completion request failed")

	// ErrMalformedOutput is returned when the endpoint responds but the
	// expected text field is absent or the body cannot be decoded.
	ErrMalformedOutput = errors.New("gateway: malformed model output")
)

// Reply is the raw text a model returned for one completion request.
type Reply struct {
	Text string
}

// Client sends a single non-streaming completion request. A failed call is a
// failed result: no retries happen at this layer.
type Client interface {
	Complete(ctx context.Context, prompt string) (Reply, error)
}
