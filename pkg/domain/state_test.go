package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationState_SnapshotIsDeep(t *testing.T) {
	s := domain.NewConversationState("s1", "be brief")
	s.Append(domain.AssistantMessage("", domain.ToolCallRequest{ID: "c1", Name: "plus", Args: map[string]any{"a": 1.0}}))

	snap := s.Snapshot()
	snap.History[1].ToolCalls[0].Args["a"] = 99.0
	snap.History[0].Content = "changed"

	assert.Equal(t, 1.0, s.History[1].ToolCalls[0].Args["a"])
	assert.Equal(t, "be brief", s.History[0].Content)
	assert.Equal(t, domain.NodeStart, s.CurrentNode)
}

func TestConversationState_NoSystemPrompt(t *testing.T) {
	s := domain.NewConversationState("s1", "")
	_, ok := s.Last()
	assert.False(t, ok)

	s.Append(domain.UserMessage("hi"))
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, domain.RoleUser, last.Role)
}

func TestConversationState_CloseToolCalls(t *testing.T) {
	s := domain.NewConversationState("s1", "")
	s.Append(
		domain.UserMessage("1+1 and 2+2 and 3+3"),
		domain.AssistantMessage("",
			domain.ToolCallRequest{ID: "c1", Name: "plus"},
			domain.ToolCallRequest{ID: "c2", Name: "plus"},
			domain.ToolCallRequest{ID: "c3", Name: "plus"},
		),
		domain.ToolMessage(domain.ToolCallResult{ID: "c1", Name: "plus", Output: "2"}),
	)

	n := s.CloseToolCalls([]domain.ToolCallResult{{ID: "c2", Name: "plus", Output: "4"}}, "ERROR: run aborted")
	assert.Equal(t, 2, n)
	require.Len(t, s.History, 5)
	assert.Equal(t, "c2", s.History[3].ToolCallID)
	assert.Equal(t, "4", s.History[3].Content)
	assert.Equal(t, "c3", s.History[4].ToolCallID)
	assert.Equal(t, "ERROR: run aborted", s.History[4].Content)

	assert.Zero(t, s.CloseToolCalls(nil, "ERROR: run aborted"), "already closed")

	s.Append(domain.AssistantMessage("done"))
	assert.Zero(t, s.CloseToolCalls(nil, "ERROR: run aborted"), "final answer has no calls")
}

func TestToolMessage_CarriesErrorText(t *testing.T) {
	msg := domain.ToolMessage(domain.ToolCallResult{ID: "c1", Name: "divide", ErrorText: "ERROR: Division by zero"})
	assert.Equal(t, domain.RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, "ERROR: Division by zero", msg.Content)
}

func TestFeedbackEvent_Wire(t *testing.T) {
	assert.Equal(t, "__END__", domain.EndOfStream().Wire())
	assert.Equal(t, "4", domain.Result("4").Wire())
	assert.True(t, domain.EndOfStream().IsTerminal())
	assert.False(t, domain.Result("4").IsTerminal())
}

func TestLifecycleHooks_Merge(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnNodeEnter: func(context.Context, *domain.NodeEvent) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{
		OnNodeEnter: func(context.Context, *domain.NodeEvent) { calls = append(calls, "b") },
		OnNodeLeave: func(context.Context, *domain.NodeEvent) { calls = append(calls, "leave") },
	}

	m := a.Merge(b)
	m.OnNodeEnter(context.Background(), &domain.NodeEvent{})
	m.OnNodeLeave(context.Background(), &domain.NodeEvent{})

	assert.Equal(t, []string{"a", "b", "leave"}, calls)
	assert.Nil(t, m.OnToolCall)
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&domain.BackendError{Provider: "openai", Err: cause})
	assert.ErrorIs(t, err, domain.ErrBackendFailure)
	assert.ErrorIs(t, err, cause)

	var rerr error = &domain.RoutingError{Node: domain.NodeToolExecution}
	assert.ErrorIs(t, rerr, domain.ErrNoSatisfiableEdge)
	assert.Contains(t, rerr.Error(), "tool_execution")
}
