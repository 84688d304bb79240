package mcphost

import (
	"context"
	"fmt"

	"github.com/MrWong99/openrouter/internal/mcp"
	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// builtinServerName is the pseudo server name used for in-process tools.
const builtinServerName = "builtin"

// BuiltinTool is a tool implemented as a Go function that runs in-process.
//
// ExecuteTool calls the Handler directly without any network or subprocess
// round-trip; otherwise built-in tools behave like server tools.
type BuiltinTool struct {
	// Definition is the descriptor offered to the model. Parameters without a
	// type are treated as an object schema.
	Definition openrouter.ToolDefinition

	// Handler receives the JSON object arguments. A non-nil error marks the
	// result as an error.
	Handler func(ctx context.Context, args string) (string, error)
}

// RegisterBuiltin registers a built-in tool. A tool with the same name is
// replaced.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("mcp host: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("mcp host: builtin tool %q must have a non-nil handler", tool.Definition.Name)
	}

	def := tool.Definition
	def.Parameters = schemaToMap(def.Parameters)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[def.Name] = toolEntry{
		def:          def,
		serverName:   builtinServerName,
		measurements: newRollingWindow(defaultWindowSize),
		builtinFn:    tool.Handler,
	}
	return nil
}

func executeBuiltin(ctx context.Context, entry toolEntry, args string) *mcp.ToolResult {
	output, err := entry.builtinFn(ctx, args)
	if err != nil {
		return &mcp.ToolResult{Content: err.Error(), IsError: true}
	}
	return &mcp.ToolResult{Content: output}
}
