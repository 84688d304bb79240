package openrouter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Mode is the call shape a [RequestBuilder] targets.
type Mode int

const (
	// ModeInteractive is the single-shot interactive chat path. Structured
	// output is not available on it.
	ModeInteractive Mode = iota

	// ModeNonInteractive is the tool-following and structured-output path.
	ModeNonInteractive
)

func (m Mode) String() string {
	switch m {
	case ModeInteractive:
		return "interactive"
	case ModeNonInteractive:
		return "non-interactive"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// RequestBuilder assembles a request from a base (model plus messages or a
// prompt) and optional attachments. Attachment methods return the builder for
// chaining; repeating an attachment replaces the earlier value.
//
// The first attachment that is invalid for the builder's [Mode] is recorded
// and returned by [RequestBuilder.Err] and [RequestBuilder.Build]. A builder is
// not safe for concurrent use.
type RequestBuilder struct {
	model    string
	messages []Message
	prompt   string
	isPrompt bool
	mode     Mode

	tools       []ToolDefinition
	toolChoice  *ToolChoice
	structured  *StructuredOutputSpec
	provider    *ProviderPreferences
	stream      bool
	fallbacks   []string
	temperature *float64
	maxTokens   *int
	topP        *float64
	stop        []string
	seed        *int64
	transforms  []string
	usage       bool

	err error
}

// NewRequestBuilder returns a chat builder for model. The messages slice is
// copied; its order is preserved in the payload.
func NewRequestBuilder(model string, messages []Message, mode Mode) *RequestBuilder {
	return &RequestBuilder{
		model:    model,
		messages: slices.Clone(messages),
		mode:     mode,
	}
}

// NewPromptBuilder returns a non-interactive builder for the prompt
// completion endpoint.
func NewPromptBuilder(model, prompt string) *RequestBuilder {
	return &RequestBuilder{
		model:    model,
		prompt:   prompt,
		isPrompt: true,
		mode:     ModeNonInteractive,
	}
}

// Mode returns the call shape the builder targets.
func (b *RequestBuilder) Mode() Mode { return b.mode }

// Err returns the first attachment error recorded by the builder, if any.
func (b *RequestBuilder) Err() error { return b.err }

// WithTools attaches tool definitions.
func (b *RequestBuilder) WithTools(tools ...ToolDefinition) *RequestBuilder {
	b.tools = slices.Clone(tools)
	return b
}

// WithToolChoice controls whether and which tool the model must call.
func (b *RequestBuilder) WithToolChoice(choice ToolChoice) *RequestBuilder {
	b.toolChoice = &choice
	return b
}

// WithStructuredOutput constrains the response to spec's schema. On an
// interactive builder it records an [UnsupportedOperationError].
func (b *RequestBuilder) WithStructuredOutput(spec StructuredOutputSpec) *RequestBuilder {
	if b.mode == ModeInteractive {
		if b.err == nil {
			b.err = &UnsupportedOperationError{
				Op:     "WithStructuredOutput",
				Reason: "structured output is reserved for non-interactive requests",
			}
		}
		return b
	}
	spec.Schema = cloneSchema(spec.Schema)
	b.structured = &spec
	return b
}

// WithProviderPreferences attaches provider routing hints.
func (b *RequestBuilder) WithProviderPreferences(p ProviderPreferences) *RequestBuilder {
	p = p.clone()
	b.provider = &p
	return b
}

// WithStream marks the request as streaming or non-streaming.
func (b *RequestBuilder) WithStream(stream bool) *RequestBuilder {
	b.stream = stream
	return b
}

// WithFallbackModels sets the ordered models the service may try after the
// primary one.
func (b *RequestBuilder) WithFallbackModels(models ...string) *RequestBuilder {
	b.fallbacks = slices.Clone(models)
	return b
}

// WithTemperature sets the sampling temperature.
func (b *RequestBuilder) WithTemperature(t float64) *RequestBuilder {
	b.temperature = &t
	return b
}

// WithMaxTokens limits the number of generated tokens.
func (b *RequestBuilder) WithMaxTokens(n int) *RequestBuilder {
	b.maxTokens = &n
	return b
}

// WithTopP sets nucleus sampling.
func (b *RequestBuilder) WithTopP(p float64) *RequestBuilder {
	b.topP = &p
	return b
}

// WithStop sets stop sequences.
func (b *RequestBuilder) WithStop(stop ...string) *RequestBuilder {
	b.stop = slices.Clone(stop)
	return b
}

// WithSeed requests deterministic sampling where supported.
func (b *RequestBuilder) WithSeed(seed int64) *RequestBuilder {
	b.seed = &seed
	return b
}

// WithTransforms sets the prompt transforms applied by the service.
func (b *RequestBuilder) WithTransforms(transforms ...string) *RequestBuilder {
	b.transforms = slices.Clone(transforms)
	return b
}

// WithUsage asks the service to report token usage and cost. On streaming
// requests usage arrives on the terminal chunk.
func (b *RequestBuilder) WithUsage(include bool) *RequestBuilder {
	b.usage = include
	return b
}

// Build validates the builder state and encodes the wire payload. It performs
// no I/O and produces identical bytes for identical builder state.
func (b *RequestBuilder) Build() (*RequestPayload, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	req := wireRequest{
		Model:       b.model,
		Stream:      b.stream,
		Provider:    b.provider,
		Models:      b.fallbacks,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		TopP:        b.topP,
		Stop:        b.stop,
		Seed:        b.seed,
		Transforms:  b.transforms,
	}
	if b.isPrompt {
		req.Prompt = b.prompt
	} else {
		req.Messages = b.messages
	}
	for _, t := range b.tools {
		req.Tools = append(req.Tools, wireTool{
			Type: ToolCallTypeFunction,
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if b.toolChoice != nil {
		req.ToolChoice = b.toolChoice.wire()
	}
	if b.structured != nil {
		req.ResponseFormat = &wireResponseFormat{
			Type: "json_schema",
			JSONSchema: wireJSONSchema{
				Name:   b.structured.Name,
				Strict: b.structured.Strict,
				Schema: b.structured.Schema,
			},
		}
	}
	if b.usage {
		req.Usage = &wireUsage{Include: true}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return nil, &InvalidRequestError{Reason: "encode payload: " + err.Error()}
	}

	p := &RequestPayload{
		body:     bytes.TrimRight(buf.Bytes(), "\n"),
		model:    b.model,
		stream:   b.stream,
		prompt:   b.isPrompt,
		mode:     b.mode,
		messages: slices.Clone(b.messages),
		text:     b.prompt,
		tools:    slices.Clone(b.tools),
	}
	if b.structured != nil {
		s := *b.structured
		s.Schema = cloneSchema(s.Schema)
		p.structured = &s
	}
	return p, nil
}

func (b *RequestBuilder) validate() error {
	if strings.TrimSpace(b.model) == "" {
		return &InvalidRequestError{Field: "model", Reason: "must not be empty"}
	}
	if b.isPrompt {
		if strings.TrimSpace(b.prompt) == "" {
			return &InvalidRequestError{Field: "prompt", Reason: "must not be empty"}
		}
	} else {
		if len(b.messages) == 0 {
			return &InvalidRequestError{Field: "messages", Reason: "must not be empty"}
		}
		for i, m := range b.messages {
			if err := validateMessage(i, m); err != nil {
				return err
			}
		}
	}

	seen := make(map[string]bool, len(b.tools))
	for i, t := range b.tools {
		field := fmt.Sprintf("tools[%d].function.name", i)
		if strings.TrimSpace(t.Name) == "" {
			return &InvalidRequestError{Field: field, Reason: "must not be empty"}
		}
		if seen[t.Name] {
			return &InvalidRequestError{Field: field, Reason: fmt.Sprintf("duplicate function name %q", t.Name)}
		}
		seen[t.Name] = true
		if t.Parameters != nil {
			if typ, ok := t.Parameters["type"]; ok && typ != "object" {
				return &InvalidRequestError{
					Field:  fmt.Sprintf("tools[%d].function.parameters", i),
					Reason: "must describe a JSON object",
				}
			}
		}
	}
	if b.toolChoice != nil && b.toolChoice.mode == "" {
		return &InvalidRequestError{Field: "tool_choice", Reason: "zero ToolChoice; use ToolChoiceNone, ToolChoiceAuto or ToolChoiceFunction"}
	}
	if b.toolChoice != nil && b.toolChoice.mode == "function" {
		if b.toolChoice.function == "" {
			return &InvalidRequestError{Field: "tool_choice", Reason: "function name must not be empty"}
		}
		if !seen[b.toolChoice.function] {
			return &InvalidRequestError{
				Field:  "tool_choice",
				Reason: fmt.Sprintf("function %q is not among the attached tools", b.toolChoice.function),
			}
		}
	}

	if b.structured != nil {
		if strings.TrimSpace(b.structured.Name) == "" {
			return &InvalidRequestError{Field: "response_format.json_schema.name", Reason: "must not be empty"}
		}
		if b.structured.Schema == nil {
			return &InvalidRequestError{Field: "response_format.json_schema.schema", Reason: "must not be empty"}
		}
	}

	if b.provider != nil {
		order := make(map[string]bool, len(b.provider.Order))
		for i, name := range b.provider.Order {
			if order[name] {
				return &InvalidRequestError{
					Field:  fmt.Sprintf("provider.order[%d]", i),
					Reason: fmt.Sprintf("duplicate provider %q", name),
				}
			}
			order[name] = true
		}
	}

	if b.maxTokens != nil && *b.maxTokens <= 0 {
		return &InvalidRequestError{Field: "max_tokens", Reason: "must be positive"}
	}
	if b.temperature != nil && (*b.temperature < 0 || *b.temperature > 2) {
		return &InvalidRequestError{Field: "temperature", Reason: "must be within [0, 2]"}
	}
	if b.topP != nil && (*b.topP <= 0 || *b.topP > 1) {
		return &InvalidRequestError{Field: "top_p", Reason: "must be within (0, 1]"}
	}
	return nil
}

func validateMessage(i int, m Message) error {
	field := fmt.Sprintf("messages[%d]", i)
	if !m.Role.IsValid() {
		return &InvalidRequestError{
			Field:  field + ".role",
			Reason: fmt.Sprintf("invalid role %q, must be system, user, assistant or tool", m.Role),
		}
	}
	if strings.TrimSpace(m.Content) == "" && len(m.ToolCalls) == 0 {
		return &InvalidRequestError{Field: field, Reason: "must have non-empty content or tool_calls"}
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return &InvalidRequestError{Field: field + ".tool_call_id", Reason: "required on tool messages"}
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return &InvalidRequestError{
			Field:  field + ".tool_calls",
			Reason: fmt.Sprintf("only assistant messages may carry tool calls, role is %q", m.Role),
		}
	}
	for j, tc := range m.ToolCalls {
		tcField := fmt.Sprintf("%s.tool_calls[%d]", field, j)
		if strings.TrimSpace(tc.ID) == "" {
			return &InvalidRequestError{Field: tcField + ".id", Reason: "must not be empty"}
		}
		if tc.Type != ToolCallTypeFunction {
			return &InvalidRequestError{
				Field:  tcField + ".type",
				Reason: fmt.Sprintf("invalid type %q, must be %q", tc.Type, ToolCallTypeFunction),
			}
		}
		if strings.TrimSpace(tc.Function.Name) == "" {
			return &InvalidRequestError{Field: tcField + ".function.name", Reason: "must not be empty"}
		}
	}
	return nil
}

// RequestPayload is a finalized, immutable request.
type RequestPayload struct {
	body       []byte
	model      string
	stream     bool
	prompt     bool
	mode       Mode
	structured *StructuredOutputSpec
	messages   []Message
	text       string
	tools      []ToolDefinition
}

// Bytes returns a copy of the encoded JSON body.
func (p *RequestPayload) Bytes() []byte { return bytes.Clone(p.body) }

// Model returns the primary model of the request.
func (p *RequestPayload) Model() string { return p.model }

// Stream reports whether the request asks for a streamed response.
func (p *RequestPayload) Stream() bool { return p.stream }

// IsPrompt reports whether the payload targets the prompt completion endpoint.
func (p *RequestPayload) IsPrompt() bool { return p.prompt }

// Mode returns the call shape the payload was built for.
func (p *RequestPayload) Mode() Mode { return p.mode }

// StructuredOutput returns a copy of the attached structured output spec, or
// nil.
func (p *RequestPayload) StructuredOutput() *StructuredOutputSpec {
	if p.structured == nil {
		return nil
	}
	s := *p.structured
	s.Schema = cloneSchema(s.Schema)
	return &s
}

// EstimateTokens returns a rough prompt size estimate of about four
// characters per token, with a fixed overhead per message and tool call.
func (p *RequestPayload) EstimateTokens() int {
	total := len(p.text) / 4
	for _, m := range p.messages {
		total += 3 + len(m.Content)/4
		for _, tc := range m.ToolCalls {
			total += 10 + len(tc.Function.Name)/4 + len(tc.Function.Arguments)/4
		}
	}
	for _, t := range p.tools {
		total += 10 + len(t.Name)/4 + len(t.Description)/4
		if t.Parameters != nil {
			if raw, err := json.Marshal(t.Parameters); err == nil {
				total += len(raw) / 4
			}
		}
	}
	return total
}

// ---- wire types ----

type wireRequest struct {
	Model          string               `json:"model"`
	Messages       []Message            `json:"messages,omitempty"`
	Prompt         string               `json:"prompt,omitempty"`
	Stream         bool                 `json:"stream,omitempty"`
	Tools          []wireTool           `json:"tools,omitempty"`
	ToolChoice     any                  `json:"tool_choice,omitempty"`
	ResponseFormat *wireResponseFormat  `json:"response_format,omitempty"`
	Provider       *ProviderPreferences `json:"provider,omitempty"`
	Models         []string             `json:"models,omitempty"`
	Temperature    *float64             `json:"temperature,omitempty"`
	MaxTokens      *int                 `json:"max_tokens,omitempty"`
	TopP           *float64             `json:"top_p,omitempty"`
	Stop           []string             `json:"stop,omitempty"`
	Seed           *int64               `json:"seed,omitempty"`
	Transforms     []string             `json:"transforms,omitempty"`
	Usage          *wireUsage           `json:"usage,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema wireJSONSchema `json:"json_schema"`
}

type wireJSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type wireUsage struct {
	Include bool `json:"include"`
}

type wireToolChoiceFunction struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

func (c ToolChoice) wire() any {
	if c.mode != "function" {
		return c.mode
	}
	w := wireToolChoiceFunction{Type: ToolCallTypeFunction}
	w.Function.Name = c.function
	return w
}

// cloneSchema deep-copies a JSON document made of maps, slices, and scalars.
func cloneSchema(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneSchema(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
