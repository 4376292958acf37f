package runtime

// UseGraph swaps the agent graph, for tests that drive other topologies through Run.
func (e *Engine) UseGraph(g *Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	e.graph = g
	e.router = NewRouter(g)
	return nil
}
