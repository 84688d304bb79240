package openrouter

import (
	"fmt"
	"strings"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is one of the recognised roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one entry of a conversation. Messages are sent in the order the
// caller supplies them.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Name is an optional participant name.
	Name string `json:"name,omitempty"`

	// ToolCallID is set on RoleTool messages and names the call being answered.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls lists the invocations requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage returns a user-role message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage returns an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolMessage returns a tool-role message answering the call with id callID.
func ToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// ToolCallTypeFunction is the only tool call type the service defines.
const ToolCallTypeFunction = "function"

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is the JSON Schema of the function arguments.
	Parameters map[string]any
}

// ToolChoice controls whether and which tool the model calls. Use
// [ToolChoiceNone], [ToolChoiceAuto], or [ToolChoiceFunction].
type ToolChoice struct {
	mode     string
	function string
}

var (
	ToolChoiceNone = ToolChoice{mode: "none"}
	ToolChoiceAuto = ToolChoice{mode: "auto"}
)

// ToolChoiceFunction forces a call to the named function.
func ToolChoiceFunction(name string) ToolChoice {
	return ToolChoice{mode: "function", function: name}
}

// StructuredOutputSpec constrains the response to a JSON Schema.
type StructuredOutputSpec struct {
	// Name identifies the schema to the service and in validation errors.
	Name string

	// Strict asks the service to adhere to the schema exactly.
	Strict bool

	// Schema is the JSON Schema document.
	Schema map[string]any

	// Validate enables client-side validation of the response against Schema.
	Validate bool

	// Fallback returns the raw body instead of failing when validation fails.
	// Ignored when Validate is false.
	Fallback bool
}

// DataCollection is a provider data-retention policy.
type DataCollection string

const (
	DataCollectionAllow DataCollection = "allow"
	DataCollectionDeny  DataCollection = "deny"
)

// ProviderSort selects how candidate providers are ranked.
type ProviderSort string

const (
	SortPrice      ProviderSort = "price"
	SortThroughput ProviderSort = "throughput"
	SortLatency    ProviderSort = "latency"
)

// Quantization is a model weight precision filter.
type Quantization string

const (
	QuantInt4    Quantization = "int4"
	QuantInt8    Quantization = "int8"
	QuantFP6     Quantization = "fp6"
	QuantFP8     Quantization = "fp8"
	QuantFP16    Quantization = "fp16"
	QuantBF16    Quantization = "bf16"
	QuantFP32    Quantization = "fp32"
	QuantUnknown Quantization = "unknown"
)

// ProviderPreferences are routing hints for choosing the backing provider.
// Every field is optional; zero values are omitted from the payload.
type ProviderPreferences struct {
	Order             []string       `json:"order,omitempty"`
	AllowFallbacks    *bool          `json:"allow_fallbacks,omitempty"`
	RequireParameters *bool          `json:"require_parameters,omitempty"`
	DataCollection    DataCollection `json:"data_collection,omitempty"`
	Ignore            []string       `json:"ignore,omitempty"`
	Quantizations     []Quantization `json:"quantizations,omitempty"`
	Sort              ProviderSort   `json:"sort,omitempty"`
}

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Cost is the charged amount in credits, when usage accounting is enabled.
	Cost float64 `json:"cost,omitempty"`
}

// ChatChoice is one choice of a non-streaming chat completion.
type ChatChoice struct {
	Index              int     `json:"index"`
	Message            Message `json:"message"`
	FinishReason       string  `json:"finish_reason,omitempty"`
	NativeFinishReason string  `json:"native_finish_reason,omitempty"`
}

// ChatCompletionResponse is the body of a non-streaming chat completion.
type ChatCompletionResponse struct {
	ID       string       `json:"id"`
	Model    string       `json:"model"`
	Provider string       `json:"provider,omitempty"`
	Created  int64        `json:"created"`
	Choices  []ChatChoice `json:"choices"`
	Usage    *Usage       `json:"usage,omitempty"`
}

// Content returns the message content of the first choice.
func (r *ChatCompletionResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// ValidateToolCalls checks that every tool call in the response is a function
// call.
func (r *ChatCompletionResponse) ValidateToolCalls() error {
	for i, c := range r.Choices {
		for j, tc := range c.Message.ToolCalls {
			if tc.Type != ToolCallTypeFunction {
				return &SchemaValidationError{
					Details: fmt.Sprintf("choices[%d].message.tool_calls[%d]: invalid tool call type %q, expected %q",
						i, j, tc.Type, ToolCallTypeFunction),
				}
			}
		}
	}
	return nil
}

// CompletionChoice is one choice of a prompt completion.
type CompletionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// CompletionResponse is the body of a non-streaming prompt completion.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// Text returns the text of the first choice.
func (r *CompletionResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Text
}

// ToolCallDelta is a fragment of a tool call inside a stream chunk. Fragments
// with the same Index belong to the same call.
type ToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

// Delta is the incremental content of a streamed chat choice.
type Delta struct {
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// StreamChoice is one choice inside a [StreamChunk].
type StreamChoice struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`

	// Text is the delta for prompt completions.
	Text string `json:"text,omitempty"`

	FinishReason       string `json:"finish_reason,omitempty"`
	NativeFinishReason string `json:"native_finish_reason,omitempty"`
}

// StreamChunk is one partial response of a streaming call. Usage is set only
// on the terminal chunk, and only when the service reports it.
type StreamChunk struct {
	ID       string         `json:"id"`
	Model    string         `json:"model,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Created  int64          `json:"created,omitempty"`
	Choices  []StreamChoice `json:"choices"`
	Usage    *Usage         `json:"usage,omitempty"`
}

// Content returns the content delta of the first choice (chat or prompt).
func (c StreamChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	if c.Choices[0].Delta.Content != "" {
		return c.Choices[0].Delta.Content
	}
	return c.Choices[0].Text
}

// FinishReason returns the finish reason of the first choice, or "".
func (c StreamChunk) FinishReason() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].FinishReason
}

// Model describes one model offered by the service.
type Model struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	ContextLength       int          `json:"context_length"`
	SupportedParameters []string     `json:"supported_parameters,omitempty"`
	Pricing             ModelPricing `json:"pricing"`
}

// ModelPricing holds per-token prices as decimal strings, as reported.
type ModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Supports reports whether the model lists parameter among its supported
// request parameters.
func (m Model) Supports(parameter string) bool {
	for _, p := range m.SupportedParameters {
		if strings.EqualFold(p, parameter) {
			return true
		}
	}
	return false
}
