package domain

// NodeID names a node of the execution graph.
type NodeID string

const (
	NodeStart              NodeID = "start"
	NodeLLMRequest         NodeID = "llm_request"
	NodeToolExecution      NodeID = "tool_execution"
	NodeHistoryCompression NodeID = "history_compression"
	NodeFinish             NodeID = "finish"
)

// ConversationState is the mutable record of one session.
// It is owned by the run currently driving the session and must not be shared
// between concurrent runs.
type ConversationState struct {
	SessionID string `json:"session_id"`

	// History is the ordered conversation. Only appended to, except by history
	// compression which swaps in a reduced copy.
	History []Message `json:"history"`

	// TokenUsage is the usage reported by the most recent backend call.
	TokenUsage int `json:"token_usage"`

	CurrentNode NodeID `json:"current_node"`
}

// NewConversationState creates a state, seeding the history with a system prompt when one is given.
func NewConversationState(sessionID, systemPrompt string) *ConversationState {
	s := &ConversationState{
		SessionID:   sessionID,
		CurrentNode: NodeStart,
	}
	if systemPrompt != "" {
		s.History = append(s.History, SystemMessage(systemPrompt))
	}
	return s
}

// Append adds messages to the end of the history.
func (s *ConversationState) Append(msgs ...Message) {
	s.History = append(s.History, msgs...)
}

// CloseToolCalls answers every tool call of the latest assistant message that has
// no tool message yet. The matching entry of results is used when there is one,
// otherwise text becomes the error result. It returns the number of calls answered.
// Backends reject histories with unanswered tool calls.
func (s *ConversationState) CloseToolCalls(results []ToolCallResult, text string) int {
	last := -1
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || !s.History[last].HasToolCalls() {
		return 0
	}

	answered := map[string]bool{}
	for _, m := range s.History[last+1:] {
		if m.Role == RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	byID := make(map[string]ToolCallResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	n := 0
	for _, c := range s.History[last].ToolCalls {
		if answered[c.ID] {
			continue
		}
		r, ok := byID[c.ID]
		if !ok {
			r = ToolCallResult{ID: c.ID, Name: c.Name, ErrorText: text}
		}
		s.Append(ToolMessage(r))
		n++
	}
	return n
}

// Last returns the most recent message, if any.
func (s *ConversationState) Last() (Message, bool) {
	if len(s.History) == 0 {
		return Message{}, false
	}
	return s.History[len(s.History)-1], true
}

// Snapshot returns a deep copy of the state.
func (s *ConversationState) Snapshot() *ConversationState {
	out := *s
	out.History = CloneHistory(s.History)
	return &out
}

// CloneHistory deep-copies a message slice.
func CloneHistory(history []Message) []Message {
	if history == nil {
		return nil
	}
	out := make([]Message, len(history))
	for i, m := range history {
		out[i] = m.Clone()
	}
	return out
}
