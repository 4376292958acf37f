package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoSatisfiableEdge is returned when no outgoing edge of a node accepts the step output.
var ErrNoSatisfiableEdge = errors.New("no satisfiable edge")

// ErrIterationCapExceeded is returned when a run executes more nodes than allowed.
var ErrIterationCapExceeded = errors.New("iteration cap exceeded")

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("duplicate tool")

// ErrUnknownTool is used for tool calls naming an unregistered tool.
var ErrUnknownTool = errors.New("unknown tool")

// ErrBackendFailure is the sentinel wrapped by BackendError.
var ErrBackendFailure = errors.New("backend failure")

// ErrInvalidGraph is returned when the execution graph violates a construction invariant.
var ErrInvalidGraph = errors.New("invalid graph")

// RoutingError reports a routing deadlock at a node.
type RoutingError struct {
	Node NodeID
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, ErrNoSatisfiableEdge)
}

func (e *RoutingError) Unwrap() error { return ErrNoSatisfiableEdge }

// BackendError wraps a failed language-model call.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%v: %v", ErrBackendFailure, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrBackendFailure, e.Provider, e.Err)
}

func (e *BackendError) Unwrap() []error { return []error{ErrBackendFailure, e.Err} }
