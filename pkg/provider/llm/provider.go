// Package llm defines the Provider interface the application talks to.
//
// A provider wraps one model behind a channel-based streaming API so that the
// chat loop, the tool loop, and tests do not depend on the wire client.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the context is cancelled.
package llm

import "context"

// FinishReasonError marks the last chunk of a stream that failed after it
// started. The chunk's Err field carries the cause.
const FinishReasonError = "error"

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Cost is the charged amount in credits, when reported.
	Cost float64
}

// CompletionRequest carries everything the model needs to produce a response.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// Tools are the functions offered to the model.
	Tools []ToolDefinition

	// Temperature in [0, 2]. Zero uses the backend default.
	Temperature float64

	// MaxTokens caps the completion. Zero uses the backend default.
	MaxTokens int

	// SystemPrompt, when set, is sent as a leading system message.
	SystemPrompt string
}

// Chunk is one fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental content. Empty for chunks that only carry tool
	// calls or a finish reason.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// or [FinishReasonError].
	FinishReason string

	// ToolCalls is set on the final chunk with the fully assembled calls.
	ToolCalls []ToolCall

	// Usage is set on the final chunk when the backend reports it.
	Usage *Usage

	// Err is set when FinishReason is [FinishReasonError].
	Err error
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	// Content is empty when the model answered only with tool calls.
	Content string

	ToolCalls []ToolCall

	Usage Usage
}

// Provider is the abstraction over an LLM backend.
type Provider interface {
	// StreamCompletion starts a completion and returns a channel of chunks.
	// The error return is non-nil only when the stream could not be started;
	// later failures arrive as a final chunk with FinishReason "error". The
	// channel is never nil when the error is nil, and callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs a completion and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the prompt size of messages. It should not
	// undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities describes the underlying model. The result is constant for
	// the lifetime of the provider.
	Capabilities() ModelCapabilities
}
