package domain

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry of the conversation history.
// Messages are treated as immutable once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool invocations.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// ToolCallID links a tool message to the request it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// Compressed marks content already reduced by history compression.
	Compressed bool `json:"compressed,omitempty"`
}

// SystemMessage builds a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user utterance.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant reply, optionally carrying tool calls.
func AssistantMessage(content string, calls ...ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage converts a tool result into a history entry.
func ToolMessage(result ToolCallResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.Text(),
		ToolCallID: result.ID,
		ToolName:   result.Name,
	}
}

// HasToolCalls reports whether the message requests at least one tool invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a copy that shares no mutable storage with m.
func (m Message) Clone() Message {
	out := m
	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]ToolCallRequest, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			out.ToolCalls[i] = c.Clone()
		}
	}
	return out
}
