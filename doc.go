/*
Package tendril is a graph-driven tool-calling agent for conversational assistants.

A conversation turn runs through a small directed graph of nodes: the user input is
sent to a language model, tool calls the model requests are executed concurrently
and their results sent back, and the loop repeats until the model gives a final
answer. When the reported token usage grows past a threshold, older history is
compressed before the next request.

# Concept

The graph is data: a node map plus, for each node, guarded edges evaluated in
priority order. The engine walks it one node at a time and streams progress to the
caller as typed events (Processing, Result or Error, then EndOfStream). Hosts decide
how to carry those events: a WebSocket, an HTTP response, MCP, or a terminal.

# Key Features

  - Explicit tool registry with typed parameters validated before invocation.
  - Concurrent tool fan-out with results kept in request order.
  - Pluggable backends: OpenAI-compatible (including Ollama), Anthropic and gollm.
  - Per-session serialization of turns, optionally across replicas via Redis.
  - Lifecycle hooks for metrics and logging.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/tendril"
	)

	func main() {
		agent, err := tendril.New(tendril.WithBackend(myBackend))
		if err != nil {
			log.Fatal(err)
		}

		answer, err := agent.Ask(context.Background(), "What is 2 + 2?", func(progress string) {
			fmt.Println(progress)
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(answer)
	}

For a server, mount agent.Handler(...) on an http.Server; for MCP clients, call
agent.MCP().ServeStdio().
*/
package tendril
