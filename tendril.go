package tendril

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/internal/tools/calculator"
	httpAdapter "github.com/aretw0/tendril/pkg/adapters/http"
	"github.com/aretw0/tendril/pkg/adapters/mcp"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/feedback"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/aretw0/tendril/pkg/session"
)

// Version is the release of this build. Overridden with -ldflags "-X".
var Version = "0.1.0-dev"

// Compressor rewrites the history when token usage crosses the threshold.
type Compressor = runtime.Compressor

// Agent is the high-level entry point for the Tendril library.
// It wires a backend, the tool registry, the execution engine and the session
// manager, and exposes them through the HTTP and MCP adapters.
type Agent struct {
	Registry *registry.Registry
	Sessions *session.Manager

	engine       *runtime.Engine
	systemPrompt string
	logger       *slog.Logger
}

type options struct {
	backend      ports.Backend
	tools        []registry.Tool
	systemPrompt string
	logger       *slog.Logger
	hooks        domain.LifecycleHooks
	locker       ports.DistributedLocker
	lockTTL      time.Duration
	maxInput     int
	engineOpts   []runtime.EngineOption
}

// Option defines a functional option for configuring the Agent.
type Option func(*options)

// WithBackend sets the language model. Required.
func WithBackend(b ports.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithTools replaces the default calculator tools.
func WithTools(tools ...registry.Tool) Option {
	return func(o *options) {
		o.tools = tools
	}
}

// WithSystemPrompt sets the prompt seeded into every new conversation.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) {
		o.systemPrompt = prompt
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(o *options) {
		o.hooks = o.hooks.Merge(hooks)
	}
}

// WithLocker serializes turns of a session across replicas.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(o *options) {
		o.locker = locker
		o.lockTTL = ttl
	}
}

// WithMaxInput caps the size of a user input in bytes.
func WithMaxInput(n int) Option {
	return func(o *options) {
		o.maxInput = n
	}
}

// WithMaxIterations caps the node executions of one run.
func WithMaxIterations(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, runtime.WithMaxIterations(n))
	}
}

// WithTokenThreshold sets the usage above which history is compressed.
func WithTokenThreshold(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, runtime.WithTokenThreshold(n))
	}
}

// WithMaxParallelTools bounds concurrent tool calls within one batch.
func WithMaxParallelTools(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, runtime.WithMaxParallelTools(n))
	}
}

// WithCompressor replaces the default truncating compressor.
func WithCompressor(c Compressor) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, runtime.WithCompressor(c))
	}
}

// WithPhrases makes Processing events pick from phrases with a seeded generator.
// An empty list keeps the built-in phrases.
func WithPhrases(seed uint64, phrases ...string) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, runtime.WithPhraseSelector(runtime.RandomPhrases(seed, phrases)))
	}
}

// WithFixedPhrase makes every Processing event carry text.
func WithFixedPhrase(text string) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, runtime.WithPhraseSelector(runtime.FixedPhrase(text)))
	}
}

// NewTruncator returns the compressor that shortens old tool results, keeping the
// latest keepRecent untouched and previewRunes of the others.
func NewTruncator(keepRecent, previewRunes int) Compressor {
	return runtime.NewTruncator(keepRecent, previewRunes)
}

// NewSummarizer returns the compressor that asks the backend to summarize earlier turns.
func NewSummarizer(backend ports.Backend) Compressor {
	return &runtime.Summarizer{Backend: backend}
}

// ChainCompressors applies compressors in order.
func ChainCompressors(cs ...Compressor) Compressor {
	return runtime.Chain(cs)
}

// New initializes a new Agent.
func New(opts ...Option) (*Agent, error) {
	o := &options{systemPrompt: calculator.SystemPrompt}
	for _, opt := range opts {
		opt(o)
	}
	if o.backend == nil {
		return nil, errors.New("tendril: a backend is required (use WithBackend)")
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	reg := registry.NewRegistry()
	if o.tools == nil {
		if err := calculator.Register(reg); err != nil {
			return nil, err
		}
	} else {
		for _, t := range o.tools {
			if err := reg.Register(t); err != nil {
				return nil, fmt.Errorf("tendril: %w", err)
			}
		}
	}

	engineOpts := append([]runtime.EngineOption{
		runtime.WithLogger(o.logger),
		runtime.WithLifecycleHooks(o.hooks),
	}, o.engineOpts...)
	engine, err := runtime.NewEngine(o.backend, reg, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("tendril: %w", err)
	}

	sessionOpts := []session.Option{
		session.WithSystemPrompt(o.systemPrompt),
		session.WithLogger(o.logger),
		session.WithMaxInput(o.maxInput),
	}
	if o.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(o.locker), session.WithLockTTL(o.lockTTL))
	}

	return &Agent{
		Registry:     reg,
		Sessions:     session.NewManager(sessionOpts...),
		engine:       engine,
		systemPrompt: o.systemPrompt,
		logger:       o.logger,
	}, nil
}

// Run executes one turn on state, pushing events to out.
func (a *Agent) Run(ctx context.Context, state *domain.ConversationState, input string, out *feedback.Stream) error {
	return a.engine.Run(ctx, state, input, out)
}

// Stream executes one turn on state in the background and returns its events.
func (a *Agent) Stream(ctx context.Context, state *domain.ConversationState, input string) <-chan domain.FeedbackEvent {
	return a.engine.Stream(ctx, state, input)
}

// NewConversation returns a fresh state seeded with the system prompt.
func (a *Agent) NewConversation(id string) *domain.ConversationState {
	return domain.NewConversationState(id, a.systemPrompt)
}

// Ask runs one turn on a fresh conversation and returns the final answer.
// Progress events are passed to onProgress when it is non-nil.
func (a *Agent) Ask(ctx context.Context, input string, onProgress func(string)) (string, error) {
	input, err := a.Sessions.Sanitize(input)
	if err != nil {
		return "", err
	}

	var answer string
	var failure error
	for ev := range a.Stream(ctx, a.NewConversation("ask"), input) {
		switch ev.Kind {
		case domain.FeedbackProcessing:
			if onProgress != nil {
				onProgress(ev.Text)
			}
		case domain.FeedbackResult:
			answer = ev.Text
		case domain.FeedbackError:
			failure = errors.New(ev.Text)
		}
	}
	if failure != nil {
		return "", failure
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return answer, nil
}

// Graph exposes the execution graph for inspection.
func (a *Agent) Graph() *runtime.Graph {
	return a.engine.Graph()
}

// Handler returns the HTTP and WebSocket surface of the agent.
func (a *Agent) Handler(opts httpAdapter.Options) http.Handler {
	if opts.Version == "" {
		opts.Version = Version
	}
	if opts.Logger == nil {
		opts.Logger = a.logger
	}
	return httpAdapter.NewHandler(a, a.Sessions, a.Registry, opts)
}

// MCP returns an MCP server exposing the tools and an ask tool.
func (a *Agent) MCP() *mcp.Server {
	return mcp.NewServer(a.Registry, a.engine.Executor(), mcp.Options{
		Version:      Version,
		Runner:       a,
		SystemPrompt: a.systemPrompt,
		Sanitize:     a.Sessions.Sanitize,
		Logger:       a.logger,
	})
}
