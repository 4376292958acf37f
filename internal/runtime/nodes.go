package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/google/uuid"
)

// buildGraph wires the agent graph:
//
//	start -> llm_request
//	llm_request -> finish               (final assistant message)
//	llm_request -> tool_execution       (tool calls requested)
//	tool_execution -> history_compression (token usage above threshold)
//	tool_execution -> llm_request       (otherwise, send results)
//	history_compression -> llm_request  (send results)
func (e *Engine) buildGraph() *Graph {
	g := NewGraph(domain.NodeStart, domain.NodeFinish)

	g.Node(domain.NodeStart, e.start).
		Node(domain.NodeLLMRequest, e.llmRequest, Exhaustive()).
		Node(domain.NodeToolExecution, e.toolExecution).
		Node(domain.NodeHistoryCompression, e.historyCompression).
		Node(domain.NodeFinish, e.finish)

	g.Edge(domain.Edge{
		From: domain.NodeStart, To: domain.NodeLLMRequest, Name: "ask",
	})

	g.Edge(domain.Edge{
		From: domain.NodeLLMRequest, To: domain.NodeFinish, Name: "final answer", Priority: 1,
		Guard: func(_ *domain.ConversationState, out any) bool {
			reply, ok := out.(*domain.BackendReply)
			return ok && reply.IsFinal()
		},
		Transform: func(out any) any { return out.(*domain.BackendReply).Message.Content },
	})
	g.Edge(domain.Edge{
		From: domain.NodeLLMRequest, To: domain.NodeToolExecution, Name: "tool calls", Priority: 2,
		Guard: func(_ *domain.ConversationState, out any) bool {
			reply, ok := out.(*domain.BackendReply)
			return ok && !reply.IsFinal()
		},
		Transform: func(out any) any { return out.(*domain.BackendReply).ToolCalls() },
	})

	g.Edge(domain.Edge{
		From: domain.NodeToolExecution, To: domain.NodeHistoryCompression, Name: "over budget", Priority: 1,
		Guard: func(state *domain.ConversationState, _ any) bool {
			return state.TokenUsage > e.tokenThreshold
		},
	})
	g.Edge(domain.Edge{
		From: domain.NodeToolExecution, To: domain.NodeLLMRequest, Name: "send results", Priority: 2,
	})

	g.Edge(domain.Edge{
		From: domain.NodeHistoryCompression, To: domain.NodeLLMRequest, Name: "send results",
	})

	return g
}

func (e *Engine) start(_ context.Context, turn *Turn, _ any) (any, error) {
	turn.State.Append(domain.UserMessage(turn.Input))
	return nil, nil
}

// llmRequest appends pending tool results, announces progress and asks the backend.
func (e *Engine) llmRequest(ctx context.Context, turn *Turn, input any) (any, error) {
	state := turn.State

	if results, ok := input.([]domain.ToolCallResult); ok {
		for _, r := range results {
			state.Append(domain.ToolMessage(r))
		}
	}

	if err := turn.Stream.Progress(ctx, e.phrases()); err != nil {
		return nil, err
	}

	reply, err := e.backend.Call(ctx, domain.CloneHistory(state.History), e.registry.Catalogue())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var be *domain.BackendError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, &domain.BackendError{Err: err}
	}
	if reply == nil {
		return nil, &domain.BackendError{Err: errors.New("empty reply")}
	}

	msg := reply.Message.Clone()
	msg.Role = domain.RoleAssistant
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + uuid.NewString()
		}
	}

	state.Append(msg)
	state.TokenUsage = reply.TokenUsage

	return &domain.BackendReply{Message: msg, TokenUsage: reply.TokenUsage}, nil
}

func (e *Engine) toolExecution(ctx context.Context, _ *Turn, input any) (any, error) {
	calls, ok := input.([]domain.ToolCallRequest)
	if !ok {
		return nil, fmt.Errorf("tool execution: unexpected input %T", input)
	}
	return e.executor.Execute(ctx, calls), nil
}

// historyCompression reduces the history and forwards the pending results untouched.
func (e *Engine) historyCompression(ctx context.Context, turn *Turn, input any) (any, error) {
	state := turn.State
	before := len(state.History)

	compressed, err := e.compressor.Compress(ctx, state.History)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		// A failed compression leaves the history as it was; the run goes on.
		e.logger.Warn("history compression failed", "session_id", state.SessionID, "err", err)
	case len(compressed) > before:
		e.logger.Warn("compressor grew the history, ignoring result", "before", before, "after", len(compressed))
	default:
		state.History = compressed
	}

	if e.hooks.OnCompress != nil {
		e.hooks.OnCompress(ctx, &domain.CompressEvent{
			EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventCompress, SessionID: state.SessionID},
			Before:    before,
			After:     len(state.History),
		})
	}
	e.logger.Debug("history compressed", "session_id", state.SessionID, "before", before, "after", len(state.History), "token_usage", state.TokenUsage)

	return input, nil
}

func (e *Engine) finish(_ context.Context, _ *Turn, input any) (any, error) {
	text, _ := input.(string)
	return text, nil
}
