package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434/api/generate"
	defaultOllamaTimeout  = 60 * time.Second
)

// OllamaConfig configures a local completion-endpoint client.
type OllamaConfig struct {
	// Endpoint is the generate URL. Default http://localhost:11434/api/generate.
	Endpoint string
	// Model is the model name sent with every request.
	Model string
	// Timeout bounds the whole HTTP round trip. Default 60s.
	Timeout time.Duration
	// HTTPClient overrides the default client; its Timeout wins when set.
	HTTPClient *http.Client
}

// OllamaClient talks to an Ollama-style completion endpoint:
// request {model, prompt, stream:false}, response {"response": string}.
type OllamaClient struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaClient creates a completion client for the configured endpoint.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultOllamaTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &OllamaClient{
		endpoint: endpoint,
		model:    cfg.Model,
		client:   client,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// Complete sends one non-streaming completion request and returns the
// model's text reply.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (Reply, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("gateway: encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("gateway: build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		message := strings.TrimSpace(string(respBody))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return Reply{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, message)
	}

	var decoded generateResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Reply{}, fmt.Errorf("%w: decode response: %v", ErrMalformedOutput, err)
	}
	if decoded.Response == nil {
		return Reply{}, fmt.Errorf("%w: missing response field", ErrMalformedOutput)
	}
	return Reply{Text: *decoded.Response}, nil
}

// Compile-time interface check.
var _ Client = (*OllamaClient)(nil)
