// Package openrouter provides an llm.Provider backed by a ready
// OpenRouter client.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"slices"

	or "github.com/MrWong99/openrouter/pkg/openrouter"
	"github.com/MrWong99/openrouter/pkg/provider/llm"
)

// Provider implements llm.Provider on top of [or.Client].
type Provider struct {
	client *or.Client
	model  string
	cfg    config
}

type config struct {
	fallbacks []string
	provider  *or.ProviderPreferences
	info      *or.Model
}

// Option is a functional option for Provider.
type Option func(*config)

// WithFallbackModels sets the models the service may try after the primary
// one.
func WithFallbackModels(models ...string) Option {
	return func(c *config) {
		c.fallbacks = slices.Clone(models)
	}
}

// WithProviderPreferences attaches routing hints to every request.
func WithProviderPreferences(p or.ProviderPreferences) Option {
	return func(c *config) {
		c.provider = &p
	}
}

// WithModelInfo supplies the model listing entry, used to report accurate
// capabilities.
func WithModelInfo(m or.Model) Option {
	return func(c *config) {
		c.info = &m
	}
}

// New returns a provider for model.
func New(client *or.Client, model string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("openrouter provider: client must not be nil")
	}
	if model == "" {
		return nil, errors.New("openrouter provider: model must not be empty")
	}
	p := &Provider{client: client, model: model}
	for _, o := range opts {
		o(&p.cfg)
	}
	return p, nil
}

// StreamCompletion implements llm.Provider. Text is forwarded as it arrives;
// tool calls, the finish reason, and usage are delivered on one final chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	payload, err := p.buildPayload(req, true)
	if err != nil {
		return nil, fmt.Errorf("openrouter provider: build request: %w", err)
	}
	stream, err := p.client.Chat().Stream(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter provider: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var acc or.Accumulator
		for stream.Next() {
			chunk := stream.Current()
			acc.Add(chunk)
			if text := chunk.Content(); text != "" {
				if !send(llm.Chunk{Text: text}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error(), Err: err})
			return
		}

		resp := acc.Response()
		final := llm.Chunk{FinishReason: "stop", Usage: convertUsage(resp.Usage)}
		if len(resp.Choices) > 0 {
			c := resp.Choices[0]
			if c.FinishReason != "" {
				final.FinishReason = c.FinishReason
			}
			final.ToolCalls = convertToolCalls(c.Message.ToolCalls)
		}
		send(final)
	}()
	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	payload, err := p.buildPayload(req, false)
	if err != nil {
		return nil, fmt.Errorf("openrouter provider: build request: %w", err)
	}
	resp, err := p.client.Chat().Complete(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter provider: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openrouter provider: empty choices in response")
	}
	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{
		Content:   msg.Content,
		ToolCalls: convertToolCalls(msg.ToolCalls),
	}
	if u := convertUsage(resp.Usage); u != nil {
		out.Usage = *u
	}
	return out, nil
}

// CountTokens implements llm.Provider with a four-characters-per-token
// estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	payload, err := or.NewRequestBuilder(p.model, convertMessages("", messages), or.ModeNonInteractive).Build()
	if err != nil {
		return 0, fmt.Errorf("openrouter provider: count tokens: %w", err)
	}
	return payload.EstimateTokens(), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsStreaming:   true,
		SupportsToolCalling: true,
	}
	if info := p.cfg.info; info != nil {
		caps.ContextWindow = info.ContextLength
		caps.SupportsToolCalling = info.Supports("tools")
		caps.SupportsStructuredOutput = info.Supports("response_format") || info.Supports("structured_outputs")
		return caps
	}
	caps.SupportsStructuredOutput, _ = or.DefaultCapabilities().StructuredOutput(context.Background(), p.model)
	return caps
}

func (p *Provider) buildPayload(req llm.CompletionRequest, stream bool) (*or.RequestPayload, error) {
	b := or.NewRequestBuilder(p.model, convertMessages(req.SystemPrompt, req.Messages), or.ModeNonInteractive).
		WithStream(stream).
		WithUsage(true)

	if len(req.Tools) > 0 {
		tools := make([]or.ToolDefinition, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, or.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		b = b.WithTools(tools...)
	}
	if req.Temperature != 0 {
		b = b.WithTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		b = b.WithMaxTokens(req.MaxTokens)
	}
	if len(p.cfg.fallbacks) > 0 {
		b = b.WithFallbackModels(p.cfg.fallbacks...)
	}
	if p.cfg.provider != nil {
		b = b.WithProviderPreferences(*p.cfg.provider)
	}
	return b.Build()
}

func convertMessages(system string, msgs []llm.Message) []or.Message {
	out := make([]or.Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, or.SystemMessage(system))
	}
	for _, m := range msgs {
		om := or.Message{
			Role:       or.Role(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, or.ToolCall{
				ID:       tc.ID,
				Type:     or.ToolCallTypeFunction,
				Function: or.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, om)
	}
	return out
}

func convertToolCalls(calls []or.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out
}

func convertUsage(u *or.Usage) *llm.Usage {
	if u == nil {
		return nil
	}
	return &llm.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
	}
}

var _ llm.Provider = (*Provider)(nil)
