package domain

// Guard decides whether an edge may be taken. It reads the state and the output of
// the step that just ran and must not mutate either.
type Guard func(state *ConversationState, output any) bool

// Transform converts the output of a step into the input of the next node.
type Transform func(output any) any

// Edge is a directed, guarded transition between two nodes.
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`

	// Name labels the edge in logs and graph renderings.
	Name string `json:"name,omitempty"`

	// Guard of nil means the edge is always satisfiable.
	Guard Guard `json:"-"`

	// Transform of nil passes the output through unchanged.
	Transform Transform `json:"-"`

	// Priority orders edges leaving the same node, lowest first.
	Priority int `json:"priority"`
}

// Unconditional reports whether the edge has no guard.
func (e Edge) Unconditional() bool {
	return e.Guard == nil
}

// Allows evaluates the guard.
func (e Edge) Allows(state *ConversationState, output any) bool {
	if e.Guard == nil {
		return true
	}
	return e.Guard(state, output)
}

// Apply runs the transform on a step output.
func (e Edge) Apply(output any) any {
	if e.Transform == nil {
		return output
	}
	return e.Transform(output)
}
