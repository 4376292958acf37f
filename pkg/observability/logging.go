package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/tendril/pkg/domain"
)

// LogHooks logs every lifecycle event. Node and tool traffic goes to Debug,
// compression and run outcomes to Info, failed runs to Warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter", "session", e.SessionID, "node", e.NodeID, "iteration", e.Iteration)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_leave", "session", e.SessionID, "node", e.NodeID)
		},
		OnToolCall: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_call", "session", e.SessionID, "tool", e.ToolName, "call_id", e.CallID, "input", e.Input)
		},
		OnToolReturn: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_return",
				"session", e.SessionID,
				"tool", e.ToolName,
				"call_id", e.CallID,
				"is_error", e.IsError,
				"duration", e.Duration,
			)
		},
		OnCompress: func(ctx context.Context, e *domain.CompressEvent) {
			logger.InfoContext(ctx, "history compressed", "session", e.SessionID, "before", e.Before, "after", e.After)
		},
		OnRunEnd: func(ctx context.Context, e *domain.RunEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "run ended", "session", e.SessionID, "outcome", e.Outcome, "iterations", e.Iterations, "err", e.Err)
				return
			}
			logger.InfoContext(ctx, "run ended", "session", e.SessionID, "outcome", e.Outcome, "iterations", e.Iterations)
		},
	}
}
