package domain

// ToolCallRequest is a tool invocation requested by the backend.
type ToolCallRequest struct {
	ID   string         `json:"id" mapstructure:"id"`
	Name string         `json:"name" mapstructure:"name"`
	Args map[string]any `json:"args,omitempty" mapstructure:"args"`

	// ArgsError is set when the backend sent arguments that could not be decoded.
	// The call is still answered, with an error result.
	ArgsError string `json:"args_error,omitempty" mapstructure:"args_error"`
}

// Clone copies the argument map.
func (c ToolCallRequest) Clone() ToolCallRequest {
	out := c
	if c.Args != nil {
		out.Args = make(map[string]any, len(c.Args))
		for k, v := range c.Args {
			out.Args[k] = v
		}
	}
	return out
}

// ToolCallResult is the textual outcome of one ToolCallRequest.
// Exactly one of Output and ErrorText is meaningful; failures are data, not faults.
type ToolCallResult struct {
	ID        string `json:"id"` // Must match the ToolCallRequest.ID
	Name      string `json:"name"`
	Output    string `json:"output,omitempty"`
	ErrorText string `json:"error,omitempty"`
}

// IsError reports whether the call failed.
func (r ToolCallResult) IsError() bool {
	return r.ErrorText != ""
}

// Text is what the model sees for this result.
func (r ToolCallResult) Text() string {
	if r.IsError() {
		return r.ErrorText
	}
	return r.Output
}

// ToolSpec describes a tool to the backend.
// Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}
