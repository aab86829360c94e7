package gateway

import (
	"context"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"
	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"
)

// irisClient adapts an iris provider to the Client contract, for driving the
// same agent loop against hosted providers instead of the raw local endpoint.
type irisClient struct {
	provider iriscore.Provider
	model    string
}

// NewIrisClient creates a Client for the named iris provider.
func NewIrisClient(provider, apiKey, model string) (Client, error) {
	p, err := providers.Create(provider, apiKey)
	if err != nil {
		return nil, fmt.Errorf("gateway: creating provider %q: %w", provider, err)
	}
	return &irisClient{provider: p, model: model}, nil
}

// Complete sends the prompt as a single user message and returns the
// assistant's text output.
func (c *irisClient) Complete(ctx context.Context, prompt string) (Reply, error) {
	resp, err := c.provider.Chat(ctx, &iriscore.ChatRequest{
		Model: iriscore.ModelID(c.model),
		Messages: []iriscore.Message{
			{Role: iriscore.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp == nil || resp.Output == "" {
		return Reply{}, fmt.Errorf("%w: provider returned no output", ErrMalformedOutput)
	}
	return Reply{Text: resp.Output}, nil
}

// Compile-time interface check.
var _ Client = (*irisClient)(nil)
