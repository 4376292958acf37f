package domain

// BackendReply is the answer of one language-model call.
type BackendReply struct {
	// Message is the raw assistant message. It is final when it carries no tool calls.
	Message Message `json:"message"`

	// TokenUsage is the usage reported by the backend for this call.
	TokenUsage int `json:"token_usage"`
}

// IsFinal reports whether the reply ends the turn.
func (r *BackendReply) IsFinal() bool {
	return r != nil && !r.Message.HasToolCalls()
}

// ToolCalls returns the requested invocations, if any.
func (r *BackendReply) ToolCalls() []ToolCallRequest {
	if r == nil {
		return nil
	}
	return r.Message.ToolCalls
}
