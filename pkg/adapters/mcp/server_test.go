package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/internal/testutils"
	"github.com/aretw0/tendril/internal/tools/calculator"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, steps ...testutils.Step) *Server {
	t.Helper()
	reg := registry.NewRegistry()
	require.NoError(t, calculator.Register(reg))
	engine, err := runtime.NewEngine(testutils.NewScriptedBackend(steps...), reg)
	require.NoError(t, err)
	return NewServer(reg, engine.Executor(), Options{
		Version:      "test",
		Runner:       engine,
		SystemPrompt: calculator.SystemPrompt,
	})
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func TestTools_MirrorRegistry(t *testing.T) {
	s := newServer(t)
	tools := s.Tools()

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.Equal(t, []string{"plus", "minus", "multiply", "divide", AskTool}, names)

	plus := tools[0]
	assert.Equal(t, "object", plus.InputSchema.Type)
	assert.ElementsMatch(t, []string{"a", "b"}, plus.InputSchema.Required)
	a, ok := plus.InputSchema.Properties["a"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "number", a["type"])
}

func TestToolHandler(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	res, err := s.toolHandler("multiply")(ctx, call("multiply", map[string]any{"a": 6.0, "b": 7.0}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "42", text(t, res))

	res, err = s.toolHandler("divide")(ctx, call("divide", map[string]any{"a": 1.0, "b": 0.0}))
	require.NoError(t, err)
	assert.Equal(t, calculator.DivisionByZero, text(t, res))

	res, err = s.toolHandler("plus")(ctx, call("plus", map[string]any{"a": 1.0}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "invalid arguments for plus")
}

func TestAsk(t *testing.T) {
	s := newServer(t,
		testutils.CallTools(10, testutils.Call("c1", "minus", 10, 4)),
		testutils.EchoLastTool(10),
		testutils.Fail(errors.New("offline")),
	)
	ctx := context.Background()

	res, err := s.handleAsk(ctx, call(AskTool, map[string]any{"message": "10-4"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "6", text(t, res))

	res, err = s.handleAsk(ctx, call(AskTool, map[string]any{"message": "again"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "offline")

	res, err = s.handleAsk(ctx, call(AskTool, map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNoAskWithoutRunner(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, calculator.Register(reg))
	s := NewServer(reg, runtime.NewExecutor(reg), Options{})
	assert.Len(t, s.Tools(), 4)
}
