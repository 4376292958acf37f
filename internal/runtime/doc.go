// Package runtime implements the agent execution graph.
//
// A Graph maps node ids to behaviors and keeps, per node, an ordered list of guarded
// edges. The Router picks the first edge whose guard accepts a step output. The
// Engine drives a run: it executes the current node, emits feedback, routes, and
// repeats until the Finish node produces the answer or a fatal error ends the run.
package runtime
