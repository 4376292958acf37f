/*
Package ports defines the driven ports (interfaces) of the Tendril agent.

These interfaces decouple the execution graph from concrete collaborators, so the
engine runs unchanged against OpenAI, Anthropic, Ollama or a scripted test backend,
and the session manager can coordinate through redis when several replicas serve
the same rooms.

# Key Interfaces

  - Backend: the language-model inference collaborator.
  - DistributedLocker: cross-replica mutual exclusion for a session.
*/
package ports
