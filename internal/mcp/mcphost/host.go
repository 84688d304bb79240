// Package mcphost provides a concrete implementation of the [mcp.Host] interface.
//
// It connects to MCP servers via stdio or streamable-HTTP transports using the
// official MCP Go SDK (github.com/modelcontextprotocol/go-sdk), keeps a
// concurrent-safe tool registry in the shape chat requests expect, and
// answers a model's tool calls.
//
// Typical usage:
//
//	h := mcphost.New()
//	defer h.Close()
//
//	err := h.ConnectAll(ctx, []mcp.ServerConfig{{
//	    Name:      "dice",
//	    Transport: mcp.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-dice-server",
//	}})
//
//	payload, err := client.NewChatRequest(msgs).WithTools(h.Tools()...).Build()
//	...
//	replies, err := h.ExecuteCalls(ctx, resp.Choices[0].Message.ToolCalls)
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/openrouter/internal/mcp"
	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// maxParallelCalls bounds concurrent tool executions in [Host.ExecuteCalls].
const maxParallelCalls = 8

// toolEntry holds all metadata for a single registered tool.
type toolEntry struct {
	def          openrouter.ToolDefinition
	serverName   string
	measurements *rollingWindow

	// builtinFn is non-nil for in-process tools registered via RegisterBuiltin.
	builtinFn func(ctx context.Context, args string) (string, error)
}

// Host is a concrete implementation of [mcp.Host].
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry             // key: tool name
	servers map[string]*mcpsdk.ClientSession // key: server name

	// client is reused across all server connections. The SDK allows a single
	// Client to manage multiple sessions concurrently.
	client *mcpsdk.Client

	observe CallObserver
}

// CallObserver is notified after every tool execution. failed covers both
// transport errors and tool-reported errors.
type CallObserver func(ctx context.Context, tool string, d time.Duration, failed bool)

// Option configures a [Host].
type Option func(*Host)

// WithCallObserver registers fn to be called after every tool execution.
func WithCallObserver(fn CallObserver) Option {
	return func(h *Host) { h.observe = fn }
}

// Compile-time check: Host must implement mcp.Host.
var _ mcp.Host = (*Host)(nil)

// New creates and returns a ready-to-use Host.
func New(opts ...Option) *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "openrouter-mcphost", Version: "1.0.0"},
		nil,
	)
	h := &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]*mcpsdk.ClientSession),
		client:  client,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ConnectAll registers every server concurrently. The first failure cancels
// the remaining connection attempts and is returned.
func (h *Host) ConnectAll(ctx context.Context, cfgs []mcp.ServerConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range cfgs {
		g.Go(func() error {
			return h.RegisterServer(gctx, cfg)
		})
	}
	return g.Wait()
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue into the host. If a server with the same Name is already
// registered, the old connection is closed and replaced.
//
// For [mcp.TransportStdio]: cfg.Command is split on spaces into executable
// and args; cfg.Env is added to the inherited environment.
//
// For [mcp.TransportStreamableHTTP]: cfg.URL is the endpoint address.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcp host: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcp host: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcp host: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("mcp host: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	return h.RegisterTransport(ctx, cfg.Name, transport)
}

// RegisterTransport connects over an already constructed transport, such as
// one half of mcpsdk.NewInMemoryTransports, and imports the server's tools
// under name.
func (h *Host) RegisterTransport(ctx context.Context, name string, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: failed to connect to server %q: %w", name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: failed to list tools for server %q: %w", name, err)
		}
		discovered = append(discovered, tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[name]; ok {
		_ = old.Close()
		for toolName, t := range h.tools {
			if t.serverName == name {
				delete(h.tools, toolName)
			}
		}
	}
	h.servers[name] = session

	for _, t := range discovered {
		if prev, ok := h.tools[t.Name]; ok && prev.serverName != name {
			slog.Warn("mcp host: tool name collision, later server wins",
				"tool", t.Name,
				"previous_server", prev.serverName,
				"server", name,
			)
		}
		h.tools[t.Name] = toolEntry{
			def: openrouter.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			serverName:   name,
			measurements: newRollingWindow(defaultWindowSize),
		}
	}
	slog.Debug("mcp host: server registered", "server", name, "tools", len(discovered))
	return nil
}

// schemaToMap converts any schema value to an object schema map. Schemas
// without a type are treated as objects.
func schemaToMap(schema any) map[string]any {
	m, ok := schema.(map[string]any)
	if ok {
		m = maps.Clone(m)
	} else if schema != nil {
		if data, err := json.Marshal(schema); err == nil {
			_ = json.Unmarshal(data, &m)
		}
	}
	if m == nil {
		m = map[string]any{}
	}
	if _, ok := m["type"]; !ok {
		m["type"] = "object"
	}
	return m
}

// Tools returns every registered tool sorted by name.
func (h *Host) Tools() []openrouter.ToolDefinition {
	h.mu.RLock()
	defs := make([]openrouter.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	h.mu.RUnlock()

	slices.SortFunc(defs, func(a, b openrouter.ToolDefinition) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return defs
}

// Stats returns the performance snapshot of the named tool.
func (h *Host) Stats(name string) (ToolStats, bool) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()
	if !ok {
		return ToolStats{}, false
	}
	w := entry.measurements
	return ToolStats{
		Name:      name,
		Server:    entry.serverName,
		CallCount: w.Count(),
		P50Ms:     w.P50(),
		P99Ms:     w.P99(),
		ErrorRate: w.ErrorRate(),
	}, true
}

// ExecuteTool calls the named tool with JSON-encoded args and returns the
// result. args must be a JSON object string; an empty string or "{}" is valid
// for parameter-less tools.
//
// A non-nil *ToolResult is returned even when [mcp.ToolResult.IsError] is
// true (application-level error). A Go error is returned only on transport
// or protocol failure.
func (h *Host) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	entry, ok := h.tools[name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: tool %q not found", name)
	}

	start := time.Now()

	var (
		result  *mcp.ToolResult
		execErr error
	)
	if entry.builtinFn != nil {
		result = executeBuiltin(ctx, entry, args)
	} else {
		result, execErr = h.executeMCPTool(ctx, entry, args)
	}

	elapsed := time.Since(start)
	durationMs := elapsed.Milliseconds()
	failed := execErr != nil || result.IsError
	entry.measurements.Record(durationMs, failed)
	if h.observe != nil {
		h.observe(ctx, name, elapsed, failed)
	}

	if execErr != nil {
		return nil, execErr
	}
	result.DurationMs = durationMs
	return result, nil
}

// ExecuteCalls answers every tool call concurrently and returns one tool
// message per call, in call order. Failures are reported to the model in the
// message content; only context cancellation aborts the batch.
func (h *Host) ExecuteCalls(ctx context.Context, calls []openrouter.ToolCall) ([]openrouter.Message, error) {
	replies := make([]openrouter.Message, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCalls)
	for i, call := range calls {
		g.Go(func() error {
			res, err := h.ExecuteTool(gctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				slog.Warn("mcp host: tool call failed", "tool", call.Function.Name, "call_id", call.ID, "err", err)
				replies[i] = openrouter.ToolMessage(call.ID, "error: "+err.Error())
				return nil
			}
			content := res.Content
			if res.IsError {
				content = "error: " + content
			}
			replies[i] = openrouter.ToolMessage(call.ID, content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("mcp host: execute tool calls: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mcp host: execute tool calls: %w", err)
	}
	return replies, nil
}

// executeMCPTool routes the call to the owning server session.
func (h *Host) executeMCPTool(ctx context.Context, entry toolEntry, args string) (*mcp.ToolResult, error) {
	h.mu.RLock()
	session, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("mcp host: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	argsMap := map[string]any{}
	if args != "" && args != "{}" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return nil, fmt.Errorf("mcp host: invalid args JSON for tool %q: %w", entry.def.Name, err)
		}
	}

	callResult, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp host: call to tool %q failed: %w", entry.def.Name, err)
	}

	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &mcp.ToolResult{
		Content: sb.String(),
		IsError: callResult.IsError,
	}, nil
}

// Close shuts down all server connections and clears the tool registry.
// After Close returns the Host must not be used again.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, session := range h.servers {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mcp host: error closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
