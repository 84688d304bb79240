package llm

// Message is a single entry of a conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	Content string

	// Name is an optional participant name.
	Name string

	// ToolCalls lists the invocations requested by an assistant message.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool" and names the call being answered.
	ToolCallID string
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	// ID is assigned by the backend and echoed in the tool result message.
	ID string

	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// ToolDefinition describes a function offered to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the argument object.
	Parameters map[string]any
}

// ModelCapabilities describes what the configured model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output. Zero
	// means unknown.
	ContextWindow int

	// MaxOutputTokens is the maximum number of generated tokens. Zero means
	// unknown.
	MaxOutputTokens int

	SupportsToolCalling      bool
	SupportsStreaming        bool
	SupportsStructuredOutput bool
}
