package backend

import (
	"errors"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{"empty", "", map[string]any{}},
		{"null", "null", map[string]any{}},
		{"valid", `{"a": 1, "b": 2.5}`, map[string]any{"a": 1.0, "b": 2.5}},
		{"trailing comma", `{"a": 1, "b": 2,}`, map[string]any{"a": 1.0, "b": 2.0}},
		{"single quotes", `{'a': 3, 'b': 4}`, map[string]any{"a": 3.0, "b": 4.0}},
		{"string wrapped", `"{\"a\": 5}"`, map[string]any{"a": 5.0}},
		{"fenced", "```json\n{\"a\": 6}\n```", map[string]any{"a": 6.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArgs(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeArgs_RejectsNonObject(t *testing.T) {
	_, err := DecodeArgs(`[1, 2]`)
	require.Error(t, err)
}

func TestEncodeArgs(t *testing.T) {
	assert.Equal(t, "{}", EncodeArgs(nil))
	assert.JSONEq(t, `{"a":1,"b":"<x>"}`, EncodeArgs(map[string]any{"a": 1, "b": "<x>"}))
	assert.Contains(t, EncodeArgs(map[string]any{"b": "<x>"}), "<x>", "html is not escaped")
}

func TestEstimateTokens(t *testing.T) {
	history := []domain.Message{
		domain.UserMessage("12345678"),
		domain.AssistantMessage("", domain.ToolCallRequest{Name: "plus"}),
	}
	// 8 + len("plus") + len("{}") + 2 = 16 characters.
	assert.Equal(t, 4, EstimateTokens(history, "ok"))
	assert.Zero(t, EstimateTokens(nil, ""))
}

func TestFail(t *testing.T) {
	cause := errors.New("timeout")
	err := Fail("openai", cause)
	assert.ErrorIs(t, err, domain.ErrBackendFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openai")
}

func TestToolCall(t *testing.T) {
	ok := ToolCall("c1", "plus", `{"a": 1, "b": 2}`)
	assert.Equal(t, "c1", ok.ID)
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, ok.Args)
	assert.Empty(t, ok.ArgsError)

	bad := ToolCall("c2", "plus", `[1, 2]`)
	assert.Equal(t, "plus", bad.Name)
	assert.Nil(t, bad.Args)
	assert.Contains(t, bad.ArgsError, "must be an object")
}
