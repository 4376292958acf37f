package runtime

import "github.com/aretw0/tendril/pkg/domain"

// Router selects the outgoing edge of a node.
type Router struct {
	graph *Graph
}

// NewRouter creates a router over g.
func NewRouter(g *Graph) *Router {
	return &Router{graph: g}
}

// Next evaluates the edges leaving from in priority order and returns the first
// whose guard accepts output. Guards only read state. When none matches it fails
// with a *domain.RoutingError wrapping domain.ErrNoSatisfiableEdge.
func (r *Router) Next(from domain.NodeID, state *domain.ConversationState, output any) (domain.Edge, error) {
	for _, e := range r.graph.edges[from] {
		if e.Allows(state, output) {
			return e, nil
		}
	}
	return domain.Edge{}, &domain.RoutingError{Node: from}
}
