package ports

import (
	"context"

	"github.com/aretw0/tendril/pkg/domain"
)

// Backend is the language-model collaborator.
//
// Call sends the full history and the tool catalogue and blocks until the model
// answers or ctx is cancelled. The reply is either a final assistant message or an
// assistant message carrying one or more tool calls. Implementations do not retry;
// any failure is returned as an error and ends the run.
type Backend interface {
	Call(ctx context.Context, history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error)

func (f BackendFunc) Call(ctx context.Context, history []domain.Message, tools []domain.ToolSpec) (*domain.BackendReply, error) {
	return f(ctx, history, tools)
}
