package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/feedback"
)

// Turn carries the per-run data handed to node behaviors.
type Turn struct {
	State  *domain.ConversationState
	Stream *feedback.Stream
	Input  string
}

// NodeFunc is the behavior of a node. It receives the input produced by the edge
// that led here and returns the step output the router evaluates.
type NodeFunc func(ctx context.Context, turn *Turn, input any) (any, error)

type node struct {
	id         domain.NodeID
	fn         NodeFunc
	exhaustive bool
}

// NodeOption configures a node at registration.
type NodeOption func(*node)

// Exhaustive declares that the guards leaving the node cover every output it can
// produce, so no unconditional fallback edge is required.
func Exhaustive() NodeOption {
	return func(n *node) {
		n.exhaustive = true
	}
}

// Graph is the node map plus the ordered edges of each node.
// It is built once and treated as immutable afterwards.
type Graph struct {
	start  domain.NodeID
	finish domain.NodeID

	nodes map[domain.NodeID]*node
	order []domain.NodeID
	edges map[domain.NodeID][]domain.Edge

	errs []error
}

// NewGraph creates an empty graph with the given entry and terminal node ids.
func NewGraph(start, finish domain.NodeID) *Graph {
	return &Graph{
		start:  start,
		finish: finish,
		nodes:  make(map[domain.NodeID]*node),
		edges:  make(map[domain.NodeID][]domain.Edge),
	}
}

// Node registers a behavior. Registration errors are reported by Validate.
func (g *Graph) Node(id domain.NodeID, fn NodeFunc, opts ...NodeOption) *Graph {
	if _, exists := g.nodes[id]; exists {
		g.errs = append(g.errs, fmt.Errorf("node %q registered twice", id))
		return g
	}
	if fn == nil {
		g.errs = append(g.errs, fmt.Errorf("node %q has no behavior", id))
		return g
	}
	n := &node{id: id, fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes[id] = n
	g.order = append(g.order, id)
	return g
}

// Edge adds a transition. Edges of a node are kept sorted by ascending priority;
// equal priorities keep insertion order.
func (g *Graph) Edge(e domain.Edge) *Graph {
	list := append(g.edges[e.From], e)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Priority < list[j].Priority })
	g.edges[e.From] = list
	return g
}

// Start returns the entry node id.
func (g *Graph) Start() domain.NodeID { return g.start }

// Finish returns the terminal node id.
func (g *Graph) Finish() domain.NodeID { return g.finish }

// Nodes returns node ids in registration order.
func (g *Graph) Nodes() []domain.NodeID {
	return append([]domain.NodeID(nil), g.order...)
}

// Edges returns the edges leaving id in evaluation order.
func (g *Graph) Edges(id domain.NodeID) []domain.Edge {
	return append([]domain.Edge(nil), g.edges[id]...)
}

func (g *Graph) behavior(id domain.NodeID) (NodeFunc, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.fn, true
}

// Validate checks the construction invariants: entry and terminal nodes exist,
// every edge connects registered nodes, the terminal node has no exits and is
// reachable, and every reachable non-terminal node has an exit that can always be
// taken (an unconditional edge, or guards declared Exhaustive).
func (g *Graph) Validate() error {
	errs := append([]error(nil), g.errs...)

	if _, ok := g.nodes[g.start]; !ok {
		errs = append(errs, fmt.Errorf("start node %q not registered", g.start))
	}
	if _, ok := g.nodes[g.finish]; !ok {
		errs = append(errs, fmt.Errorf("finish node %q not registered", g.finish))
	}

	for _, from := range sortedIDs(g.edges) {
		for _, e := range g.edges[from] {
			if _, ok := g.nodes[e.From]; !ok {
				errs = append(errs, fmt.Errorf("edge %s: unknown source %q", label(e), e.From))
			}
			if _, ok := g.nodes[e.To]; !ok {
				errs = append(errs, fmt.Errorf("edge %s: unknown target %q", label(e), e.To))
			}
		}
	}

	if len(g.edges[g.finish]) > 0 {
		errs = append(errs, fmt.Errorf("finish node %q must not have outgoing edges", g.finish))
	}

	reachable := g.reachable()
	if _, ok := g.nodes[g.finish]; ok && !reachable[g.finish] {
		errs = append(errs, fmt.Errorf("finish node %q is not reachable from %q", g.finish, g.start))
	}

	for _, id := range g.order {
		if !reachable[id] || id == g.finish {
			continue
		}
		out := g.edges[id]
		if len(out) == 0 {
			errs = append(errs, fmt.Errorf("node %q has no outgoing edges", id))
			continue
		}
		if g.nodes[id].exhaustive {
			continue
		}
		if !hasUnconditional(out) {
			errs = append(errs, fmt.Errorf("node %q: no edge is guaranteed to be satisfiable", id))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidGraph, errors.Join(errs...))
	}
	return nil
}

func (g *Graph) reachable() map[domain.NodeID]bool {
	seen := map[domain.NodeID]bool{}
	if _, ok := g.nodes[g.start]; !ok {
		return seen
	}
	queue := []domain.NodeID{g.start}
	seen[g.start] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.edges[id] {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

func hasUnconditional(edges []domain.Edge) bool {
	for _, e := range edges {
		if e.Unconditional() {
			return true
		}
	}
	return false
}

func label(e domain.Edge) string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s->%s", e.From, e.To)
}

func sortedIDs(m map[domain.NodeID][]domain.Edge) []domain.NodeID {
	ids := make([]domain.NodeID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
