package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/openrouter/internal/observe"
	"github.com/MrWong99/openrouter/pkg/openrouter"
	"github.com/MrWong99/openrouter/pkg/provider/llm"
	orllm "github.com/MrWong99/openrouter/pkg/provider/llm/openrouter"
)

// defaultMaxToolRounds bounds consecutive tool-call rounds in one chat turn.
const defaultMaxToolRounds = 8

// ChatOptions configures [App.Chat].
type ChatOptions struct {
	// Model overrides the configured model.
	Model string

	// System is sent as the system prompt of every turn.
	System string

	// MaxToolRounds bounds consecutive tool-call rounds per user message.
	// Zero selects 8.
	MaxToolRounds int
}

// Chat runs an interactive session reading one user message per line from
// in. Assistant text is streamed to the output as it arrives; tool calls are
// answered through the MCP host and fed back to the model.
//
// "/reset" clears the history and "/exit" ends the session, as does EOF.
// A failed turn is reported and dropped from the history; the session goes
// on until ctx is cancelled.
func (a *App) Chat(ctx context.Context, in io.Reader, opts ChatOptions) error {
	model := a.model(opts.Model)
	provider, err := a.chatProvider(model)
	if err != nil {
		return err
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}

	var history []llm.Message
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(a.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			history = nil
			fmt.Fprintln(a.out, "(history cleared)")
			continue
		}

		msgs := append(history, llm.Message{Role: "user", Content: line})
		turn, err := a.chatTurn(ctx, provider, model, msgs, opts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			a.metrics.RecordError(ctx, "chat", err)
			observe.Logger(ctx).Error("chat turn failed", "model", model, "err", err)
			fmt.Fprintf(a.out, "error: %v\n", err)
			continue
		}
		history = turn
	}
}

// chatProvider returns the injected provider or builds one on the client with
// the configured routing fallbacks and provider preferences.
func (a *App) chatProvider(model string) (llm.Provider, error) {
	if a.provider != nil {
		return a.provider, nil
	}
	var opts []orllm.Option
	profile, ok, err := a.cfg.RoutingProfile()
	if err != nil {
		return nil, fmt.Errorf("app: chat: %w", err)
	}
	if ok {
		if len(profile.Fallbacks) > 0 {
			opts = append(opts, orllm.WithFallbackModels(profile.Fallbacks...))
		}
		if profile.Provider != nil {
			opts = append(opts, orllm.WithProviderPreferences(*profile.Provider))
		}
	}
	p, err := orllm.New(a.client, model, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: chat: %w", err)
	}
	return p, nil
}

// chatTurn streams one assistant reply, answering tool calls until the model
// stops asking for them. It returns history extended by every message of the
// turn.
func (a *App) chatTurn(ctx context.Context, provider llm.Provider, model string, history []llm.Message, opts ChatOptions) ([]llm.Message, error) {
	ctx, span := observe.StartSpan(ctx, "app.chat_turn")
	defer span.End()

	tools := a.toolDefinitions()
	for round := 0; ; round++ {
		req := llm.CompletionRequest{
			Messages:     history,
			SystemPrompt: opts.System,
		}
		// The last round withholds tools so the model has to answer in text.
		if round < opts.MaxToolRounds {
			req.Tools = tools
		}

		reply, err := a.streamReply(ctx, provider, model, req)
		if err != nil {
			return nil, err
		}
		history = append(history, reply)
		if len(reply.ToolCalls) == 0 {
			return history, nil
		}
		if round >= opts.MaxToolRounds {
			return nil, fmt.Errorf("app: chat: model still requests tools after %d rounds", opts.MaxToolRounds)
		}
		if a.tools == nil {
			return nil, errors.New("app: model requested tools but no tool host is configured")
		}

		replies, err := a.tools.ExecuteCalls(ctx, toOpenRouterCalls(reply.ToolCalls))
		if err != nil {
			return nil, fmt.Errorf("app: chat: %w", err)
		}
		for _, r := range replies {
			history = append(history, llm.Message{Role: "tool", Content: r.Content, ToolCallID: r.ToolCallID})
		}
		slog.Debug("answered tool calls", "round", round+1, "calls", len(replies))
	}
}

// streamReply prints the streamed text and returns the assembled assistant
// message.
func (a *App) streamReply(ctx context.Context, provider llm.Provider, model string, req llm.CompletionRequest) (llm.Message, error) {
	ch, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		return llm.Message{}, err
	}
	a.metrics.ActiveStreams.Add(ctx, 1)
	defer a.metrics.ActiveStreams.Add(ctx, -1)

	var (
		text  strings.Builder
		calls []llm.ToolCall
	)
	for chunk := range ch {
		if chunk.FinishReason == llm.FinishReasonError {
			if text.Len() > 0 {
				fmt.Fprintln(a.out)
			}
			if chunk.Err != nil {
				return llm.Message{}, chunk.Err
			}
			return llm.Message{}, errors.New(chunk.Text)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			fmt.Fprint(a.out, chunk.Text)
		}
		if len(chunk.ToolCalls) > 0 {
			calls = chunk.ToolCalls
		}
		if chunk.Usage != nil {
			a.metrics.RecordUsage(ctx, model, toOpenRouterUsage(chunk.Usage))
		}
	}
	if err := ctx.Err(); err != nil {
		return llm.Message{}, err
	}
	if text.Len() > 0 {
		fmt.Fprintln(a.out)
	}
	return llm.Message{Role: "assistant", Content: text.String(), ToolCalls: calls}, nil
}

// toolDefinitions converts the host's catalogue for the provider.
func (a *App) toolDefinitions() []llm.ToolDefinition {
	if a.tools == nil {
		return nil
	}
	defs := a.tools.Tools()
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func toOpenRouterCalls(calls []llm.ToolCall) []openrouter.ToolCall {
	out := make([]openrouter.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, openrouter.ToolCall{
			ID:       c.ID,
			Type:     openrouter.ToolCallTypeFunction,
			Function: openrouter.FunctionCall{Name: c.Name, Arguments: c.Arguments},
		})
	}
	return out
}

func toOpenRouterUsage(u *llm.Usage) *openrouter.Usage {
	return &openrouter.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		Cost:             u.Cost,
	}
}
