// Package backend holds what the language-model adapters share: tool argument
// decoding, token estimation and error classification.
//
// Provider adapters live in sub-packages (openai, anthropic, gollm); the
// provider package builds the one selected by configuration.
package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/kaptinlin/jsonrepair"
)

// DecodeArgs parses the JSON arguments of a tool call.
// Models regularly emit almost-JSON (trailing commas, single quotes, code fences);
// a failed parse is retried once on the repaired text. An empty input yields an
// empty map. A JSON string holding an object is unwrapped.
func DecodeArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(stripFence(raw))
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("decode tool arguments: %w (repair: %v)", err, repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return nil, fmt.Errorf("decode repaired tool arguments: %w", err)
		}
	}

	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case string:
		return DecodeArgs(t)
	default:
		return nil, fmt.Errorf("tool arguments must be an object, got %T", v)
	}
}

// ToolCall builds a tool call request from raw JSON arguments.
// Arguments that cannot be decoded are recorded on the request instead of failing
// the backend call, so only that call is answered with an error.
func ToolCall(id, name, raw string) domain.ToolCallRequest {
	call := domain.ToolCallRequest{ID: id, Name: name}
	args, err := DecodeArgs(raw)
	if err != nil {
		call.ArgsError = err.Error()
		return call
	}
	call.Args = args
	return call
}

// EncodeArgs renders arguments as compact JSON, "{}" for none.
func EncodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "{}"
	}
	return strings.TrimSpace(buf.String())
}

// EstimateTokens approximates token usage at four characters per token,
// for providers that do not report usage.
func EstimateTokens(history []domain.Message, reply string) int {
	chars := len(reply)
	for _, m := range history {
		chars += len(m.Content)
		for _, c := range m.ToolCalls {
			chars += len(c.Name) + len(EncodeArgs(c.Args))
		}
	}
	return chars / 4
}

// Fail wraps a provider failure as a domain.BackendError.
func Fail(provider string, err error) error {
	return &domain.BackendError{Provider: provider, Err: err}
}

func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}
