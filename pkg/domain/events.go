package domain

import (
	"context"
	"time"
)

// FeedbackKind tags a FeedbackEvent.
type FeedbackKind string

const (
	FeedbackProcessing  FeedbackKind = "processing"
	FeedbackResult      FeedbackKind = "result"
	FeedbackError       FeedbackKind = "error"
	FeedbackEndOfStream FeedbackKind = "end_of_stream"
)

// EndOfStreamText is the wire form of the EndOfStream marker.
const EndOfStreamText = "__END__"

// FeedbackEvent is one notification of a run, in emission order.
type FeedbackEvent struct {
	Kind FeedbackKind `json:"kind"`
	Text string       `json:"text,omitempty"`
}

func Processing(text string) FeedbackEvent {
	return FeedbackEvent{Kind: FeedbackProcessing, Text: text}
}
func Result(text string) FeedbackEvent  { return FeedbackEvent{Kind: FeedbackResult, Text: text} }
func Failure(text string) FeedbackEvent { return FeedbackEvent{Kind: FeedbackError, Text: text} }
func EndOfStream() FeedbackEvent        { return FeedbackEvent{Kind: FeedbackEndOfStream} }

// IsTerminal reports whether the event closes a run.
func (e FeedbackEvent) IsTerminal() bool {
	return e.Kind == FeedbackEndOfStream
}

// Wire renders the event as the text frame sent to clients.
func (e FeedbackEvent) Wire() string {
	if e.Kind == FeedbackEndOfStream {
		return EndOfStreamText
	}
	return e.Text
}

// EventType defines the category of a lifecycle event.
type EventType string

const (
	EventNodeEnter  EventType = "node_enter"
	EventNodeLeave  EventType = "node_leave"
	EventToolCall   EventType = "tool_call"
	EventToolReturn EventType = "tool_return"
	EventCompress   EventType = "compress"
	EventRunEnd     EventType = "run_end"
)

// EventBase contains common fields for all lifecycle events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// NodeEvent represents entry or exit from a node.
type NodeEvent struct {
	EventBase
	NodeID    NodeID `json:"node_id"`
	Iteration int    `json:"iteration"`
}

// ToolEvent represents a tool execution.
type ToolEvent struct {
	EventBase
	CallID   string         `json:"call_id"`
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output,omitempty"`
	IsError  bool           `json:"is_error,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// CompressEvent reports a history compression pass.
type CompressEvent struct {
	EventBase
	Before int `json:"before"`
	After  int `json:"after"`
}

// RunEvent reports the end of a run.
type RunEvent struct {
	EventBase
	Outcome    string `json:"outcome"`
	Iterations int    `json:"iterations"`
	Err        error  `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Hooks are called synchronously; OnToolCall and OnToolReturn may be called
// from several goroutines at once.
type LifecycleHooks struct {
	OnNodeEnter  func(context.Context, *NodeEvent)
	OnNodeLeave  func(context.Context, *NodeEvent)
	OnToolCall   func(context.Context, *ToolEvent)
	OnToolReturn func(context.Context, *ToolEvent)
	OnCompress   func(context.Context, *CompressEvent)
	OnRunEnd     func(context.Context, *RunEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:  chain(h.OnNodeEnter, other.OnNodeEnter),
		OnNodeLeave:  chain(h.OnNodeLeave, other.OnNodeLeave),
		OnToolCall:   chain(h.OnToolCall, other.OnToolCall),
		OnToolReturn: chain(h.OnToolReturn, other.OnToolReturn),
		OnCompress:   chain(h.OnCompress, other.OnCompress),
		OnRunEnd:     chain(h.OnRunEnd, other.OnRunEnd),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
