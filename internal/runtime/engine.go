package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/feedback"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/registry"
)

const (
	// DefaultMaxIterations caps node executions per run.
	DefaultMaxIterations = 50
	// DefaultTokenThreshold is the usage above which history is compressed after a tool step.
	DefaultTokenThreshold = 1000
)

// AbortedToolText answers tool calls left open when a run ends early.
const AbortedToolText = "ERROR: run aborted"

// Run outcomes reported through OnRunEnd.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Engine is the agent execution graph runner. One Engine serves every session;
// all per-run data lives in the ConversationState and the Turn.
type Engine struct {
	graph  *Graph
	router *Router

	backend    ports.Backend
	registry   *registry.Registry
	executor   *Executor
	compressor Compressor
	phrases    PhraseSelector

	maxIterations  int
	tokenThreshold int
	parallelism    int

	hooks  domain.LifecycleHooks
	logger *slog.Logger
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithTokenThreshold overrides DefaultTokenThreshold.
func WithTokenThreshold(n int) EngineOption {
	return func(e *Engine) {
		e.tokenThreshold = n
	}
}

// WithCompressor sets the history compression strategy.
func WithCompressor(c Compressor) EngineOption {
	return func(e *Engine) {
		e.compressor = c
	}
}

// WithPhraseSelector sets the Processing phrase selector.
func WithPhraseSelector(p PhraseSelector) EngineOption {
	return func(e *Engine) {
		e.phrases = p
	}
}

// WithMaxParallelTools bounds concurrent tool calls within one step.
func WithMaxParallelTools(n int) EngineOption {
	return func(e *Engine) {
		e.parallelism = n
	}
}

// NewEngine builds the execution graph and validates it.
func NewEngine(backend ports.Backend, reg *registry.Registry, opts ...EngineOption) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("runtime: nil backend")
	}
	if reg == nil {
		reg = registry.NewRegistry()
	}

	e := &Engine{
		backend:        backend,
		registry:       reg,
		compressor:     NewTruncator(2, 200),
		phrases:        RandomPhrases(uint64(time.Now().UnixNano()), DefaultPhrases),
		maxIterations:  DefaultMaxIterations,
		tokenThreshold: DefaultTokenThreshold,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.executor = NewExecutor(reg,
		WithParallelism(e.parallelism),
		WithToolHooks(e.hooks),
		WithExecutorLogger(e.logger),
	)

	e.graph = e.buildGraph()
	if err := e.graph.Validate(); err != nil {
		return nil, err
	}
	e.router = NewRouter(e.graph)
	return e, nil
}

// Graph exposes the execution graph for inspection and rendering.
func (e *Engine) Graph() *Graph { return e.graph }

// Registry returns the tool registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Executor returns the tool executor.
func (e *Engine) Executor() *Executor { return e.executor }

// Stream runs one turn in the background and returns its events.
// The channel is closed after EndOfStream, or early if ctx is cancelled.
// Callers that stop reading must cancel ctx.
func (e *Engine) Stream(ctx context.Context, state *domain.ConversationState, input string) <-chan domain.FeedbackEvent {
	out := feedback.New(0)
	go func() {
		_ = e.Run(ctx, state, input, out)
	}()
	return out.Events()
}

// Run drives one turn to completion, pushing events to out.
//
// A successful run ends with Result followed by EndOfStream. A backend failure, a
// routing deadlock or the iteration cap ends it with Error followed by EndOfStream.
// When ctx is cancelled the stream is aborted and nothing more is pushed.
// The returned error is the run error, for logging.
func (e *Engine) Run(ctx context.Context, state *domain.ConversationState, input string, out *feedback.Stream) error {
	ctx = WithSessionID(ctx, state.SessionID)
	turn := &Turn{State: state, Stream: out, Input: input}
	log := e.logger.With("session_id", state.SessionID)

	current := e.graph.Start()
	var payload any = input

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return e.cancelled(ctx, turn, payload, iteration-1, err)
		}
		if iteration > e.maxIterations {
			err := fmt.Errorf("%w: %d node executions", domain.ErrIterationCapExceeded, e.maxIterations)
			log.Error("run aborted", "node", current, "err", err)
			return e.fail(ctx, turn, payload, iteration-1, err)
		}

		state.CurrentNode = current
		fn, _ := e.graph.behavior(current)

		e.nodeEvent(ctx, e.hooks.OnNodeEnter, domain.EventNodeEnter, state, current, iteration)
		log.Debug("node enter", "node", current, "iteration", iteration)

		output, err := fn(ctx, turn, payload)

		e.nodeEvent(ctx, e.hooks.OnNodeLeave, domain.EventNodeLeave, state, current, iteration)

		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(ctx, turn, payload, iteration, ctx.Err())
			}
			log.Error("node failed", "node", current, "err", err)
			return e.fail(ctx, turn, payload, iteration, err)
		}

		if current == e.graph.Finish() {
			text, _ := output.(string)
			if err := out.Finish(ctx, text); err != nil {
				return e.cancelled(ctx, turn, output, iteration, err)
			}
			e.runEvent(ctx, OutcomeCompleted, iteration, nil)
			log.Info("run completed", "iterations", iteration, "token_usage", state.TokenUsage)
			return nil
		}

		edge, err := e.router.Next(current, state, output)
		if err != nil {
			log.Error("routing deadlock", "node", current, "err", err)
			return e.fail(ctx, turn, output, iteration, err)
		}
		log.Debug("edge taken", "edge", label(edge), "to", edge.To)

		payload = edge.Apply(output)
		current = edge.To
	}
}

// settle leaves the history in a state the backend accepts on the next turn:
// unanswered tool calls get their pending result, or AbortedToolText.
func (e *Engine) settle(ctx context.Context, state *domain.ConversationState, pending any) {
	results, _ := pending.([]domain.ToolCallResult)
	if n := state.CloseToolCalls(results, AbortedToolText); n > 0 {
		e.logger.Debug("closed unanswered tool calls", "session_id", SessionIDFrom(ctx), "count", n)
	}
}

func (e *Engine) fail(ctx context.Context, turn *Turn, pending any, iterations int, err error) error {
	e.settle(ctx, turn.State, pending)
	out := turn.Stream
	if pushErr := out.Fail(ctx, err); pushErr != nil {
		out.Abort()
	}
	e.runEvent(ctx, OutcomeFailed, iterations, err)
	return err
}

func (e *Engine) cancelled(ctx context.Context, turn *Turn, pending any, iterations int, err error) error {
	e.settle(ctx, turn.State, pending)
	turn.Stream.Abort()
	e.runEvent(ctx, OutcomeCancelled, iterations, err)
	e.logger.Debug("run cancelled", "session_id", SessionIDFrom(ctx), "err", err)
	return err
}

func (e *Engine) nodeEvent(ctx context.Context, hook func(context.Context, *domain.NodeEvent), typ domain.EventType, state *domain.ConversationState, id domain.NodeID, iteration int) {
	if hook == nil {
		return
	}
	hook(ctx, &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: typ, SessionID: state.SessionID},
		NodeID:    id,
		Iteration: iteration,
	})
}

func (e *Engine) runEvent(ctx context.Context, outcome string, iterations int, err error) {
	if e.hooks.OnRunEnd == nil {
		return
	}
	e.hooks.OnRunEnd(ctx, &domain.RunEvent{
		EventBase:  domain.EventBase{Timestamp: time.Now(), Type: domain.EventRunEnd, SessionID: SessionIDFrom(ctx)},
		Outcome:    outcome,
		Iterations: iterations,
		Err:        err,
	})
}
