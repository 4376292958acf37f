package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/aretw0/tendril/pkg/schema"
	"golang.org/x/sync/errgroup"
)

// Executor dispatches tool calls against a registry.
type Executor struct {
	registry *registry.Registry
	limit    int
	hooks    domain.LifecycleHooks
	logger   *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithParallelism bounds the number of tool calls running at once. Zero means unbounded.
func WithParallelism(n int) ExecutorOption {
	return func(x *Executor) {
		x.limit = n
	}
}

// WithToolHooks sets the OnToolCall/OnToolReturn observers.
func WithToolHooks(h domain.LifecycleHooks) ExecutorOption {
	return func(x *Executor) {
		x.hooks = h
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		x.logger = l
	}
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *registry.Registry, opts ...ExecutorOption) *Executor {
	x := &Executor{
		registry: reg,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs every call concurrently and waits for all of them.
// The result slice has one entry per call, in call order, each carrying its call ID.
func (x *Executor) Execute(ctx context.Context, calls []domain.ToolCallRequest) []domain.ToolCallResult {
	results := make([]domain.ToolCallResult, len(calls))

	var g errgroup.Group
	if x.limit > 0 {
		g.SetLimit(x.limit)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = x.Invoke(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Invoke runs a single call. Lookup, validation and tool faults become error text.
func (x *Executor) Invoke(ctx context.Context, call domain.ToolCallRequest) (res domain.ToolCallResult) {
	res = domain.ToolCallResult{ID: call.ID, Name: call.Name}
	start := time.Now()
	sessionID := SessionIDFrom(ctx)

	if x.hooks.OnToolCall != nil {
		x.hooks.OnToolCall(ctx, &domain.ToolEvent{
			EventBase: domain.EventBase{Timestamp: start, Type: domain.EventToolCall, SessionID: sessionID},
			CallID:    call.ID,
			ToolName:  call.Name,
			Input:     call.Args,
		})
	}

	defer func() {
		if r := recover(); r != nil {
			res.Output = ""
			res.ErrorText = fmt.Sprintf("ERROR: tool %s failed: %v", call.Name, r)
			x.logger.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", r)
		}
		if x.hooks.OnToolReturn != nil {
			x.hooks.OnToolReturn(ctx, &domain.ToolEvent{
				EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventToolReturn, SessionID: sessionID},
				CallID:    call.ID,
				ToolName:  call.Name,
				Output:    res.Text(),
				IsError:   res.IsError(),
				Duration:  time.Since(start),
			})
		}
	}()

	tool, ok := x.registry.Lookup(call.Name)
	if !ok {
		res.ErrorText = fmt.Sprintf("ERROR: %v: %s", domain.ErrUnknownTool, call.Name)
		x.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return res
	}

	if call.ArgsError != "" {
		res.ErrorText = fmt.Sprintf("ERROR: invalid arguments for %s: %s", call.Name, call.ArgsError)
		x.logger.Debug("tool arguments undecodable", "tool", call.Name, "call_id", call.ID, "err", call.ArgsError)
		return res
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if err := schema.Validate(tool.Params, args); err != nil {
		res.ErrorText = fmt.Sprintf("ERROR: invalid arguments for %s: %v", call.Name, err)
		x.logger.Debug("tool arguments rejected", "tool", call.Name, "call_id", call.ID, "params", schema.Params(err))
		return res
	}

	out, err := tool.Fn(ctx, args)
	if err != nil {
		res.ErrorText = fmt.Sprintf("ERROR: %v", err)
		return res
	}
	res.Output = out
	return res
}
