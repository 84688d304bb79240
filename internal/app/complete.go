package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/openrouter/internal/cache"
	"github.com/MrWong99/openrouter/internal/observe"
	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// CompleteOptions configures [App.Complete].
type CompleteOptions struct {
	// Model overrides the configured model. When both are empty the routing
	// profile decides.
	Model string

	System string
	Prompt string

	// Schema constrains the response to a JSON Schema. Nil requests plain
	// text.
	Schema     map[string]any
	SchemaName string

	// NoValidate skips client-side validation of structured responses.
	NoValidate bool

	// Fallback prints a non-conforming structured response instead of
	// failing.
	Fallback bool

	// NoCache bypasses the response cache for this call.
	NoCache bool
}

// LoadSchema reads a JSON Schema document from path. The returned name is
// derived from the file name.
func LoadSchema(path string) (name string, schema map[string]any, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("app: load schema: %w", err)
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		return "", nil, fmt.Errorf("app: load schema %q: %w", path, err)
	}
	if schema == nil {
		return "", nil, fmt.Errorf("app: load schema %q: document is not an object", path)
	}
	return schemaName(path), schema, nil
}

// schemaName maps a file name to the characters the service accepts in a
// schema name.
func schemaName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, base)
	if name == "" {
		return "response"
	}
	return name
}

// Complete sends one prompt and prints the answer. With a schema the
// response is checked against it and printed as JSON. Non-streaming
// responses are served from the cache when an identical request was
// answered before.
func (a *App) Complete(ctx context.Context, opts CompleteOptions) error {
	ctx, span := observe.StartSpan(ctx, "app.complete")
	defer span.End()

	err := a.complete(ctx, opts)
	a.metrics.RecordError(ctx, "complete", err)
	return err
}

func (a *App) complete(ctx context.Context, opts CompleteOptions) error {
	if strings.TrimSpace(opts.Prompt) == "" {
		return errors.New("app: complete: prompt must not be empty")
	}
	var msgs []openrouter.Message
	if opts.System != "" {
		msgs = append(msgs, openrouter.SystemMessage(opts.System))
	}
	msgs = append(msgs, openrouter.UserMessage(opts.Prompt))

	b := a.completeBuilder(opts.Model, msgs).WithUsage(true)
	if opts.Schema != nil {
		name := opts.SchemaName
		if name == "" {
			name = "response"
		}
		b = b.WithStructuredOutput(openrouter.StructuredOutputSpec{
			Name:     name,
			Strict:   true,
			Schema:   opts.Schema,
			Validate: !opts.NoValidate,
			Fallback: opts.Fallback,
		})
	}
	payload, err := b.Build()
	if err != nil {
		return fmt.Errorf("app: complete: %w", err)
	}

	useCache := a.cache != nil && !opts.NoCache
	var key string
	if useCache {
		key = cache.Key(payload)
		if resp, ok := a.lookup(ctx, key); ok {
			return a.printCompletion(ctx, payload, resp)
		}
	}

	var resp *openrouter.ChatCompletionResponse
	if payload.StructuredOutput() != nil {
		res, err := a.client.Structured().Generate(ctx, payload)
		if err != nil {
			return fmt.Errorf("app: complete: %w", err)
		}
		resp = res.Response
	} else if resp, err = a.client.Chat().Complete(ctx, payload); err != nil {
		return fmt.Errorf("app: complete: %w", err)
	}
	a.metrics.RecordUsage(ctx, payload.Model(), resp.Usage)

	if useCache {
		a.store(ctx, key, resp)
	}
	return a.printCompletion(ctx, payload, resp)
}

// completeBuilder targets an explicit or configured model when there is one
// and the routing profile otherwise.
func (a *App) completeBuilder(model string, msgs []openrouter.Message) *openrouter.RequestBuilder {
	if model == "" {
		model = a.cfg.Model
	}
	if model == "" {
		return a.client.NewChatRequest(msgs)
	}
	return a.client.Structured().NewRequest(model, msgs)
}

// printCompletion writes the response content. Structured responses are
// validated here so cached and fresh responses are treated alike.
func (a *App) printCompletion(ctx context.Context, payload *openrouter.RequestPayload, resp *openrouter.ChatCompletionResponse) error {
	spec := payload.StructuredOutput()
	if spec == nil {
		fmt.Fprintln(a.out, resp.Content())
		return nil
	}
	out, err := openrouter.ValidateResponse(*spec, []byte(resp.Content()))
	if err != nil {
		return fmt.Errorf("app: complete: %w", err)
	}
	if out.Failure != nil {
		observe.Logger(ctx).Warn("structured response does not match the schema, printing it unchanged",
			"schema", spec.Name, "err", out.Failure)
	}
	fmt.Fprintln(a.out, string(out.Raw))
	return nil
}

// lookup returns a cached response. Backend failures and undecodable entries
// count as misses.
func (a *App) lookup(ctx context.Context, key string) (*openrouter.ChatCompletionResponse, bool) {
	data, found, err := a.cache.Get(ctx, key)
	switch {
	case err != nil:
		a.metrics.RecordCacheLookup(ctx, "error")
		observe.Logger(ctx).Warn("response cache lookup failed", "err", err)
		return nil, false
	case !found:
		a.metrics.RecordCacheLookup(ctx, "miss")
		return nil, false
	}
	var resp openrouter.ChatCompletionResponse
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Choices) == 0 {
		a.metrics.RecordCacheLookup(ctx, "miss")
		observe.Logger(ctx).Warn("discarding unreadable cache entry", "key", key, "err", err)
		return nil, false
	}
	a.metrics.RecordCacheLookup(ctx, "hit")
	observe.Logger(ctx).Debug("response served from cache", "key", key)
	return &resp, true
}

func (a *App) store(ctx context.Context, key string, resp *openrouter.ChatCompletionResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		observe.Logger(ctx).Warn("encode response for cache", "err", err)
		return
	}
	if err := a.cache.Set(ctx, key, data); err != nil {
		observe.Logger(ctx).Warn("response cache store failed", "err", err)
	}
}
