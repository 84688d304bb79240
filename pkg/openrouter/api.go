package openrouter

import (
	"context"
	"errors"
	"fmt"
)

const (
	pathChat        = "chat/completions"
	pathCompletions = "completions"
	pathModels      = "models"
)

// ErrModelNotFound is returned by [ModelsAPI.Get] for an unknown model id.
var ErrModelNotFound = errors.New("openrouter: model not found")

// ChatAPI submits chat completion requests.
type ChatAPI struct {
	c *Client
}

// NewRequest returns an interactive chat builder. Structured output cannot be
// attached to it; use [StructuredAPI.NewRequest] or [Client.NewChatRequest]
// for non-interactive requests.
func (a *ChatAPI) NewRequest(model string, messages []Message) *RequestBuilder {
	return NewRequestBuilder(model, messages, ModeInteractive)
}

// Complete submits a non-streaming chat payload and returns the full
// response.
func (a *ChatAPI) Complete(ctx context.Context, p *RequestPayload) (*ChatCompletionResponse, error) {
	if err := checkShape("Chat.Complete", p, false, false); err != nil {
		return nil, err
	}
	if err := a.c.preflight(ctx, p); err != nil {
		return nil, err
	}
	var resp ChatCompletionResponse
	if _, err := a.c.postJSON(ctx, pathChat, p.body, &resp); err != nil {
		return nil, a.c.structuredRejection(p, err)
	}
	if resp.Choices == nil {
		return nil, &ProtocolError{Reason: "chat response has no choices field"}
	}
	for i := range resp.Choices {
		for j := range resp.Choices[i].Message.ToolCalls {
			if resp.Choices[i].Message.ToolCalls[j].Type == "" {
				resp.Choices[i].Message.ToolCalls[j].Type = ToolCallTypeFunction
			}
		}
	}
	if err := resp.ValidateToolCalls(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream submits a streaming chat payload. The caller must drain or close the
// returned [Stream].
func (a *ChatAPI) Stream(ctx context.Context, p *RequestPayload) (*Stream, error) {
	if err := checkShape("Chat.Stream", p, false, true); err != nil {
		return nil, err
	}
	if err := a.c.preflight(ctx, p); err != nil {
		return nil, err
	}
	s, err := a.c.openStream(ctx, pathChat, p.body)
	if err != nil {
		return nil, a.c.structuredRejection(p, err)
	}
	return s, nil
}

// CompletionsAPI submits prompt completion requests.
type CompletionsAPI struct {
	c *Client
}

// NewRequest returns a prompt builder.
func (a *CompletionsAPI) NewRequest(model, prompt string) *RequestBuilder {
	return NewPromptBuilder(model, prompt)
}

// Complete submits a non-streaming prompt payload.
func (a *CompletionsAPI) Complete(ctx context.Context, p *RequestPayload) (*CompletionResponse, error) {
	if err := checkShape("Completions.Complete", p, true, false); err != nil {
		return nil, err
	}
	if err := a.c.preflight(ctx, p); err != nil {
		return nil, err
	}
	var resp CompletionResponse
	if _, err := a.c.postJSON(ctx, pathCompletions, p.body, &resp); err != nil {
		return nil, a.c.structuredRejection(p, err)
	}
	if resp.Choices == nil {
		return nil, &ProtocolError{Reason: "completion response has no choices field"}
	}
	return &resp, nil
}

// Stream submits a streaming prompt payload.
func (a *CompletionsAPI) Stream(ctx context.Context, p *RequestPayload) (*Stream, error) {
	if err := checkShape("Completions.Stream", p, true, true); err != nil {
		return nil, err
	}
	if err := a.c.preflight(ctx, p); err != nil {
		return nil, err
	}
	s, err := a.c.openStream(ctx, pathCompletions, p.body)
	if err != nil {
		return nil, a.c.structuredRejection(p, err)
	}
	return s, nil
}

// StructuredAPI generates schema-constrained responses.
type StructuredAPI struct {
	c *Client
}

// StructuredResult is the outcome of [StructuredAPI.Generate].
type StructuredResult struct {
	Response *ChatCompletionResponse
	Output   *ValidatedResponse
}

// NewRequest returns a non-interactive chat builder.
func (a *StructuredAPI) NewRequest(model string, messages []Message) *RequestBuilder {
	return NewRequestBuilder(model, messages, ModeNonInteractive)
}

// Generate submits p, which must carry a structured output spec and be
// non-streaming, and validates the content of the first choice against the
// schema.
//
// A model known not to support structured output fails with
// [StructuredOutputNotSupportedError] before any request is sent.
func (a *StructuredAPI) Generate(ctx context.Context, p *RequestPayload) (*StructuredResult, error) {
	if p == nil {
		return nil, &InvalidRequestError{Reason: "nil payload"}
	}
	spec := p.StructuredOutput()
	if spec == nil {
		return nil, &UnsupportedOperationError{Op: "Structured.Generate", Reason: "payload has no structured output attached"}
	}
	resp, err := a.c.Chat().Complete(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &ProtocolError{Reason: "structured response has no choices"}
	}
	out, err := ValidateResponse(*spec, []byte(resp.Content()))
	if err != nil {
		return nil, err
	}
	if out.Failure != nil {
		a.c.logger.DebugContext(ctx, "openrouter: structured output failed validation, returning raw body",
			"schema", spec.Name, "err", out.Failure)
	}
	return &StructuredResult{Response: resp, Output: out}, nil
}

// ModelsAPI lists the models offered by the service.
type ModelsAPI struct {
	c *Client
}

// List returns every model the service offers.
func (a *ModelsAPI) List(ctx context.Context) ([]Model, error) {
	var resp struct {
		Data []Model `json:"data"`
	}
	if err := a.c.getJSON(ctx, pathModels, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Get returns the model with the given id, or an error wrapping
// [ErrModelNotFound].
func (a *ModelsAPI) Get(ctx context.Context, id string) (*Model, error) {
	models, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].ID == id {
			return &models[i], nil
		}
	}
	return nil, fmt.Errorf("openrouter: get model %q: %w", id, ErrModelNotFound)
}

// checkShape rejects payloads that do not match the endpoint they are
// submitted to.
func checkShape(op string, p *RequestPayload, prompt, stream bool) error {
	if p == nil {
		return &InvalidRequestError{Reason: "nil payload"}
	}
	switch {
	case p.IsPrompt() && !prompt:
		return &UnsupportedOperationError{Op: op, Reason: "payload was built for the prompt completion endpoint"}
	case !p.IsPrompt() && prompt:
		return &UnsupportedOperationError{Op: op, Reason: "payload was built for the chat endpoint"}
	case p.Stream() && !stream:
		return &UnsupportedOperationError{Op: op, Reason: "payload is marked streaming"}
	case !p.Stream() && stream:
		return &UnsupportedOperationError{Op: op, Reason: "payload is not marked streaming"}
	}
	return nil
}

// preflight fails fast when the payload asks for structured output from a
// model known not to support it.
func (c *Client) preflight(ctx context.Context, p *RequestPayload) error {
	if p.structured == nil || c.caps == nil {
		return nil
	}
	supported, known := c.caps.StructuredOutput(ctx, p.model)
	if known && !supported {
		return &StructuredOutputNotSupportedError{Model: p.model}
	}
	return nil
}

// structuredRejection maps a client error naming the structured output
// parameters to [StructuredOutputNotSupportedError] for payloads that carry a
// schema. Other errors are returned unchanged.
func (c *Client) structuredRejection(p *RequestPayload, err error) error {
	if p.structured != nil && rejectsStructuredOutput(err) {
		return &StructuredOutputNotSupportedError{Model: p.model, Err: err}
	}
	return err
}
