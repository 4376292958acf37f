// Package testutils holds deterministic collaborators shared by package tests.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
)

// Step produces one backend reply from the history it receives.
type Step func(history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error)

// ScriptedBackend replays steps in order and records every call.
type ScriptedBackend struct {
	mu    sync.Mutex
	steps []Step
	calls [][]domain.Message
	tools [][]domain.ToolSpec

	// Delay is applied before each reply; the call honours ctx while waiting.
	Delay time.Duration
}

// NewScriptedBackend creates a backend answering with steps, one per call.
func NewScriptedBackend(steps ...Step) *ScriptedBackend {
	return &ScriptedBackend{steps: steps}
}

// Call implements ports.Backend.
func (b *ScriptedBackend) Call(ctx context.Context, history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error) {
	b.mu.Lock()
	n := len(b.calls)
	b.calls = append(b.calls, domain.CloneHistory(history))
	b.tools = append(b.tools, tools)
	var step Step
	if n < len(b.steps) {
		step = b.steps[n]
	}
	b.mu.Unlock()

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step == nil {
		return nil, fmt.Errorf("scripted backend: no step for call %d", n+1)
	}
	return step(history, tools)
}

// Calls returns the histories received so far.
func (b *ScriptedBackend) Calls() [][]domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]domain.Message(nil), b.calls...)
}

// Tools returns the catalogues received so far.
func (b *ScriptedBackend) Tools() [][]domain.ToolSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]domain.ToolSpec(nil), b.tools...)
}

// Reply answers with a final assistant message.
func Reply(text string, usage int) Step {
	return func([]domain.Message, []domain.ToolSpec) (*domain.BackendReply, error) {
		return &domain.BackendReply{Message: domain.AssistantMessage(text), TokenUsage: usage}, nil
	}
}

// CallTools answers with tool call requests.
func CallTools(usage int, calls ...domain.ToolCallRequest) Step {
	return func([]domain.Message, []domain.ToolSpec) (*domain.BackendReply, error) {
		return &domain.BackendReply{Message: domain.AssistantMessage("", calls...), TokenUsage: usage}, nil
	}
}

// EchoLastTool answers with the content of the newest tool message.
func EchoLastTool(usage int) Step {
	return func(history []domain.Message, _ []domain.ToolSpec) (*domain.BackendReply, error) {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == domain.RoleTool {
				return &domain.BackendReply{Message: domain.AssistantMessage(history[i].Content), TokenUsage: usage}, nil
			}
		}
		return nil, fmt.Errorf("no tool message in history")
	}
}

// Fail answers with err.
func Fail(err error) Step {
	return func([]domain.Message, []domain.ToolSpec) (*domain.BackendReply, error) {
		return nil, err
	}
}

// Call builds a tool call request with float operands.
func Call(id, name string, a, b float64) domain.ToolCallRequest {
	return domain.ToolCallRequest{ID: id, Name: name, Args: map[string]any{"a": a, "b": b}}
}

// Collect drains events until the channel closes or the timeout expires.
func Collect(t *testing.T, events <-chan domain.FeedbackEvent, timeout time.Duration) []domain.FeedbackEvent {
	t.Helper()
	var out []domain.FeedbackEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %v collecting events, got %v", timeout, out)
			return out
		}
	}
}

// Kinds lists the kinds of events, for compact assertions.
func Kinds(events []domain.FeedbackEvent) []domain.FeedbackKind {
	out := make([]domain.FeedbackKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
