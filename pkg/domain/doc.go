/*
Package domain contains the core data model of the Tendril agent.

It defines the conversation record, the tool call envelopes exchanged with the
language-model backend, the feedback events streamed to clients, and the guarded
edges that connect the nodes of the execution graph. The package has no I/O and
depends only on the standard library.

# Key Entities

  - Message: one entry of the append-only conversation history.
  - ConversationState: the per-session record (history, token usage, current node).
  - ToolCallRequest / ToolCallResult: a tool invocation and its textual outcome.
  - Edge: a prioritized, guarded transition between two nodes.
  - FeedbackEvent: progress, result and error notifications plus the EndOfStream marker.
*/
package domain
