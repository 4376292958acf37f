package runtime_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/internal/runtime"
	"github.com/aretw0/tendril/internal/testutils"
	"github.com/aretw0/tendril/internal/tools/calculator"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/feedback"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

// nodeRecorder captures node entries in order.
type nodeRecorder struct {
	mu       sync.Mutex
	entered  []domain.NodeID
	compress []*domain.CompressEvent
	runs     []*domain.RunEvent
}

func (r *nodeRecorder) hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.entered = append(r.entered, e.NodeID)
		},
		OnCompress: func(_ context.Context, e *domain.CompressEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.compress = append(r.compress, e)
		},
		OnRunEnd: func(_ context.Context, e *domain.RunEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.runs = append(r.runs, e)
		},
	}
}

func (r *nodeRecorder) count(id domain.NodeID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entered {
		if e == id {
			n++
		}
	}
	return n
}

func newEngine(t *testing.T, backend *testutils.ScriptedBackend, reg *registry.Registry, opts ...runtime.EngineOption) *runtime.Engine {
	t.Helper()
	opts = append([]runtime.EngineOption{runtime.WithPhraseSelector(runtime.FixedPhrase("Thinking..."))}, opts...)
	e, err := runtime.NewEngine(backend, reg, opts...)
	require.NoError(t, err)
	return e
}

func onlyPlus(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry()
	for _, tool := range calculator.Tools() {
		if tool.Name == "plus" {
			require.NoError(t, r.Register(tool))
		}
	}
	return r
}

func TestEngine_TwoPlusTwo(t *testing.T) {
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(40, testutils.Call("c1", "plus", 2, 2)),
		testutils.EchoLastTool(60),
	)
	rec := &nodeRecorder{}
	e := newEngine(t, backend, onlyPlus(t), runtime.WithLifecycleHooks(rec.hooks()))
	state := domain.NewConversationState("s1", calculator.SystemPrompt)

	events := testutils.Collect(t, e.Stream(context.Background(), state, "2+2"), wait)

	require.GreaterOrEqual(t, len(events), 3)
	n := len(events)
	for _, ev := range events[:n-2] {
		assert.Equal(t, domain.Processing("Thinking..."), ev)
	}
	assert.Equal(t, domain.FeedbackResult, events[n-2].Kind)
	assert.Contains(t, events[n-2].Text, "4")
	assert.Equal(t, domain.EndOfStream(), events[n-1])

	assert.Equal(t, []domain.NodeID{
		domain.NodeStart, domain.NodeLLMRequest, domain.NodeToolExecution, domain.NodeLLMRequest, domain.NodeFinish,
	}, rec.entered)
	assert.Equal(t, domain.NodeFinish, state.CurrentNode)
	assert.Equal(t, 60, state.TokenUsage)

	// The catalogue handed to the backend lists only plus.
	tools := backend.Tools()[0]
	require.Len(t, tools, 1)
	assert.Equal(t, "plus", tools[0].Name)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, runtime.OutcomeCompleted, rec.runs[0].Outcome)
}

func TestEngine_DivisionByZeroReachesHistory(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, calculator.Register(reg))
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(10, testutils.Call("c1", "divide", 5, 0)),
		testutils.Reply("Dividing by zero is undefined.", 20),
	)
	e := newEngine(t, backend, reg)
	state := domain.NewConversationState("s1", calculator.SystemPrompt)

	events := testutils.Collect(t, e.Stream(context.Background(), state, "5/0"), wait)
	require.Equal(t, domain.Result("Dividing by zero is undefined."), events[len(events)-2])

	toolAt, finalAt := -1, -1
	for i, m := range state.History {
		if m.Role == domain.RoleTool && m.Content == "ERROR: Division by zero" {
			toolAt = i
			assert.Equal(t, "c1", m.ToolCallID)
		}
		if m.Role == domain.RoleAssistant && m.Content == "Dividing by zero is undefined." {
			finalAt = i
		}
	}
	require.NotEqual(t, -1, toolAt, "tool result missing from history")
	assert.Less(t, toolAt, finalAt)

	// The second backend call saw the error text.
	second := backend.Calls()[1]
	assert.Equal(t, "ERROR: Division by zero", second[len(second)-1].Content)
}

func TestEngine_TokenPressureCompressesOnce(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, calculator.Register(reg))
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(1500, testutils.Call("c2", "multiply", 6, 7)),
		testutils.EchoLastTool(300),
	)
	rec := &nodeRecorder{}
	state := domain.NewConversationState("s1", calculator.SystemPrompt)
	usageAfterCompression := -1
	usage := domain.LifecycleHooks{
		OnNodeLeave: func(_ context.Context, ev *domain.NodeEvent) {
			if ev.NodeID == domain.NodeHistoryCompression {
				usageAfterCompression = state.TokenUsage
			}
		},
	}
	e := newEngine(t, backend, reg,
		runtime.WithLifecycleHooks(rec.hooks().Merge(usage)),
		runtime.WithCompressor(runtime.NewTruncator(0, 5)),
	)

	state.Append(domain.UserMessage("earlier"))
	state.Append(domain.AssistantMessage("", domain.ToolCallRequest{ID: "old", Name: "plus"}))
	state.Append(domain.ToolMessage(domain.ToolCallResult{ID: "old", Name: "plus", Output: strings.Repeat("9", 100)}))
	state.Append(domain.AssistantMessage("done"))

	events := testutils.Collect(t, e.Stream(context.Background(), state, "6*7"), wait)
	assert.Equal(t, domain.Result("42"), events[len(events)-2])

	assert.Equal(t, 1, rec.count(domain.NodeHistoryCompression))
	require.Len(t, rec.compress, 1)
	assert.LessOrEqual(t, rec.compress[0].After, rec.compress[0].Before)
	assert.Equal(t, 1500, usageAfterCompression, "usage is only replaced by the next backend report")

	// Compression ran before the results were sent back.
	entered := rec.entered
	ci := indexOf(entered, domain.NodeHistoryCompression)
	assert.Equal(t, domain.NodeToolExecution, entered[ci-1])
	assert.Equal(t, domain.NodeLLMRequest, entered[ci+1])

	// The old tool output was cut; the fresh result reached the backend intact.
	assert.True(t, state.History[3].Compressed)
	second := backend.Calls()[1]
	assert.Equal(t, "42", second[len(second)-1].Content)
}

func TestEngine_UnderBudgetSkipsCompression(t *testing.T) {
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(1000, testutils.Call("c1", "plus", 1, 1)),
		testutils.EchoLastTool(1000),
	)
	rec := &nodeRecorder{}
	e := newEngine(t, backend, onlyPlus(t), runtime.WithLifecycleHooks(rec.hooks()))

	testutils.Collect(t, e.Stream(context.Background(), domain.NewConversationState("s", ""), "1+1"), wait)
	assert.Equal(t, 0, rec.count(domain.NodeHistoryCompression))
}

func TestEngine_UnknownToolIsAbsorbed(t *testing.T) {
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(1, domain.ToolCallRequest{ID: "x", Name: "sqrt", Args: map[string]any{"a": 9.0}}),
		testutils.EchoLastTool(1),
	)
	e := newEngine(t, backend, onlyPlus(t))

	events := testutils.Collect(t, e.Stream(context.Background(), domain.NewConversationState("s", ""), "sqrt 9"), wait)
	assert.Equal(t, domain.Result("ERROR: unknown tool: sqrt"), events[len(events)-2])
}

func TestEngine_ParallelToolCalls(t *testing.T) {
	reg := registry.NewRegistry()
	require.NoError(t, calculator.Register(reg))
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(5,
			testutils.Call("p", "plus", 1, 2),
			testutils.Call("m", "minus", 10, 4),
			testutils.Call("d", "divide", 1, 3),
		),
		testutils.Reply("done", 5),
	)
	e := newEngine(t, backend, reg)
	state := domain.NewConversationState("s", "")

	testutils.Collect(t, e.Stream(context.Background(), state, "several"), wait)

	second := backend.Calls()[1]
	tail := second[len(second)-3:]
	assert.Equal(t, "p", tail[0].ToolCallID)
	assert.Equal(t, "3", tail[0].Content)
	assert.Equal(t, "m", tail[1].ToolCallID)
	assert.Equal(t, "6", tail[1].Content)
	assert.Equal(t, "d", tail[2].ToolCallID)
	assert.Equal(t, "0.3333333333", tail[2].Content)
}

func TestEngine_AssignsMissingCallIDs(t *testing.T) {
	backend := testutils.NewScriptedBackend(
		testutils.CallTools(1, domain.ToolCallRequest{Name: "plus", Args: map[string]any{"a": 1.0, "b": 1.0}}),
		testutils.Reply("2", 1),
	)
	e := newEngine(t, backend, onlyPlus(t))
	state := domain.NewConversationState("s", "")
	testutils.Collect(t, e.Stream(context.Background(), state, "1+1"), wait)

	call := state.History[1].ToolCalls[0]
	require.NotEmpty(t, call.ID)
	assert.Equal(t, call.ID, state.History[2].ToolCallID)
}

func TestEngine_BackendFailureIsFatalButSessionSurvives(t *testing.T) {
	backend := testutils.NewScriptedBackend(
		testutils.Fail(errors.New("connection refused")),
		testutils.Reply("recovered", 1),
	)
	rec := &nodeRecorder{}
	e := newEngine(t, backend, onlyPlus(t), runtime.WithLifecycleHooks(rec.hooks()))
	state := domain.NewConversationState("s", "")

	out := feedback.New(0)
	var runErr error
	done := make(chan struct{})
	go func() {
		runErr = e.Run(context.Background(), state, "hi", out)
		close(done)
	}()
	events := testutils.Collect(t, out.Events(), wait)
	<-done

	assert.Equal(t, []domain.FeedbackKind{domain.FeedbackProcessing, domain.FeedbackError, domain.FeedbackEndOfStream}, testutils.Kinds(events))
	assert.Contains(t, events[1].Text, "connection refused")
	assert.ErrorIs(t, runErr, domain.ErrBackendFailure)
	require.Len(t, rec.runs, 1)
	assert.Equal(t, runtime.OutcomeFailed, rec.runs[0].Outcome)

	events = testutils.Collect(t, e.Stream(context.Background(), state, "again"), wait)
	assert.Equal(t, domain.Result("recovered"), events[len(events)-2])
}

func TestEngine_IterationCap(t *testing.T) {
	var steps []testutils.Step
	for i := 0; i < 10; i++ {
		steps = append(steps, testutils.CallTools(1, testutils.Call("c", "plus", 1, 1)))
	}
	e := newEngine(t, testutils.NewScriptedBackend(steps...), onlyPlus(t), runtime.WithMaxIterations(5))

	events := testutils.Collect(t, e.Stream(context.Background(), domain.NewConversationState("s", ""), "loop"), wait)
	n := len(events)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, domain.FeedbackError, events[n-2].Kind)
	assert.Contains(t, events[n-2].Text, "iteration cap exceeded")
	assert.Equal(t, domain.EndOfStream(), events[n-1])
}

// unansweredCalls lists tool call IDs with no tool message after their assistant message.
func unansweredCalls(history []domain.Message) []string {
	var open []string
	for i, m := range history {
		for _, c := range m.ToolCalls {
			found := false
			for _, later := range history[i+1:] {
				if later.Role == domain.RoleTool && later.ToolCallID == c.ID {
					found = true
					break
				}
			}
			if !found {
				open = append(open, c.ID)
			}
		}
	}
	return open
}

func TestEngine_IterationCapLeavesHistoryUsable(t *testing.T) {
	tests := []struct {
		name     string
		cap      int
		wantTool map[string]string
	}{
		{
			name:     "cap before executing calls",
			cap:      4,
			wantTool: map[string]string{"c1": "2", "c2": runtime.AbortedToolText},
		},
		{
			name:     "cap with results pending",
			cap:      3,
			wantTool: map[string]string{"c1": "2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testutils.NewScriptedBackend(
				testutils.CallTools(1, testutils.Call("c1", "plus", 1, 1)),
				testutils.CallTools(1, testutils.Call("c2", "plus", 2, 2)),
				testutils.Reply("ok", 1),
			)
			e := newEngine(t, backend, onlyPlus(t), runtime.WithMaxIterations(tt.cap))
			state := domain.NewConversationState("s", "")

			first := testutils.Collect(t, e.Stream(context.Background(), state, "loop"), wait)
			require.GreaterOrEqual(t, len(first), 2)
			assert.Contains(t, first[len(first)-2].Text, "iteration cap exceeded")
			assert.Empty(t, unansweredCalls(state.History))

			got := map[string]string{}
			for _, m := range state.History {
				if m.Role == domain.RoleTool {
					got[m.ToolCallID] = m.Content
				}
			}
			assert.Equal(t, tt.wantTool, got)

			// The session keeps working: the next backend call sees a closed history.
			nextBackend := testutils.NewScriptedBackend(testutils.Reply("next answer", 1))
			next := newEngine(t, nextBackend, onlyPlus(t))
			events := testutils.Collect(t, next.Stream(context.Background(), state, "next"), wait)
			assert.Equal(t, domain.Result("next answer"), events[len(events)-2])
			require.Len(t, nextBackend.Calls(), 1)
			assert.Empty(t, unansweredCalls(nextBackend.Calls()[0]))
		})
	}
}

func TestEngine_RoutingDeadlockEndsRun(t *testing.T) {
	rec := &nodeRecorder{}
	e := newEngine(t, testutils.NewScriptedBackend(), onlyPlus(t), runtime.WithLifecycleHooks(rec.hooks()))

	noop := func(context.Context, *runtime.Turn, any) (any, error) { return "nothing", nil }
	never := func(*domain.ConversationState, any) bool { return false }
	g := runtime.NewGraph("begin", "end").
		Node("begin", noop).
		Node("pick", noop, runtime.Exhaustive()).
		Node("end", noop).
		Edge(domain.Edge{From: "begin", To: "pick", Name: "go"}).
		Edge(domain.Edge{From: "pick", To: "end", Name: "never", Guard: never})
	require.NoError(t, e.UseGraph(g))

	out := feedback.New(4)
	err := e.Run(context.Background(), domain.NewConversationState("s", ""), "hi", out)
	require.ErrorIs(t, err, domain.ErrNoSatisfiableEdge)

	var events []domain.FeedbackEvent
	for ev := range out.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, domain.FeedbackError, events[0].Kind)
	assert.Contains(t, events[0].Text, `node "pick"`)
	assert.Equal(t, domain.EndOfStream(), events[1])

	require.Len(t, rec.runs, 1)
	assert.Equal(t, runtime.OutcomeFailed, rec.runs[0].Outcome)
	assert.Equal(t, 0, rec.count("end"))
}

func TestEngine_CancellationStopsEvents(t *testing.T) {
	backend := testutils.NewScriptedBackend(testutils.Reply("too late", 1))
	backend.Delay = time.Second
	e := newEngine(t, backend, onlyPlus(t))

	ctx, cancel := context.WithCancel(context.Background())
	out := feedback.New(0)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, domain.NewConversationState("s", ""), "hi", out) }()

	first := <-out.Events()
	assert.Equal(t, domain.FeedbackProcessing, first.Kind)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(wait):
		t.Fatal("run did not stop after cancel")
	}
	for ev := range out.Events() {
		t.Errorf("unexpected event after cancel: %+v", ev)
	}
}

func TestEngine_HistoryRetainedAcrossTurns(t *testing.T) {
	backend := testutils.NewScriptedBackend(testutils.Reply("one", 1), testutils.Reply("two", 1))
	e := newEngine(t, backend, onlyPlus(t))
	state := domain.NewConversationState("s", "sys")

	testutils.Collect(t, e.Stream(context.Background(), state, "first"), wait)
	testutils.Collect(t, e.Stream(context.Background(), state, "second"), wait)

	second := backend.Calls()[1]
	require.Len(t, second, 4)
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "one", second[2].Content)
	assert.Equal(t, "second", second[3].Content)
}

func TestNewEngine_RequiresBackend(t *testing.T) {
	_, err := runtime.NewEngine(nil, registry.NewRegistry())
	assert.Error(t, err)
}

func TestEngine_GraphShape(t *testing.T) {
	e := newEngine(t, testutils.NewScriptedBackend(), nil)
	g := e.Graph()

	assert.NoError(t, g.Validate())
	exits := g.Edges(domain.NodeToolExecution)
	require.Len(t, exits, 2)
	assert.Equal(t, domain.NodeHistoryCompression, exits[0].To)
	assert.Equal(t, domain.NodeLLMRequest, exits[1].To)
	assert.True(t, exits[1].Unconditional())
}

func indexOf(ids []domain.NodeID, id domain.NodeID) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
