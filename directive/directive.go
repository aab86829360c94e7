// Package directive extracts structured action directives from free-form
// model replies.
package directive

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Directive is one parsed instruction: an action name plus its arguments.
type Directive struct {
	Action string         `json:"action"`
	Args   map[string]any `json:"args"`
}

// replyEnvelope is the directive schema models are prompted to produce.
type replyEnvelope struct {
	Requests []Directive `json:"mcp_requests"`
}

// ParseError reports a model reply that could not be decoded into directives.
// Raw carries the original reply text for diagnostics and reproduction.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("directive: parse model reply: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Parse decodes a model reply into a sequence of directives.
//
// The reply is first decoded strictly as the directive envelope. If that
// fails and the text contains an embedded JSON object, the substring between
// the first '{' and the last '}' is decoded instead; this tolerates models
// that wrap their output in commentary. Anything less well-formed is a
// ParseError — malformed output is never repaired or guessed at.
func Parse(reply string) ([]Directive, error) {
	envelope, err := decodeEnvelope(reply)
	if err != nil {
		extracted, ok := extractObject(reply)
		if !ok {
			return nil, &ParseError{Raw: reply, Err: err}
		}
		envelope, err = decodeEnvelope(extracted)
		if err != nil {
			return nil, &ParseError{Raw: reply, Err: err}
		}
	}

	for i, d := range envelope.Requests {
		if strings.TrimSpace(d.Action) == "" {
			return nil, &ParseError{
				Raw: reply,
				Err: fmt.Errorf("directive %d has no action", i),
			}
		}
	}
	return envelope.Requests, nil
}

func decodeEnvelope(text string) (replyEnvelope, error) {
	var envelope replyEnvelope
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		return replyEnvelope{}, err
	}
	if envelope.Requests == nil {
		return replyEnvelope{}, fmt.Errorf("reply carries no mcp_requests field")
	}
	return envelope, nil
}

// extractObject returns the substring between the first '{' and the last '}'.
func extractObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}
