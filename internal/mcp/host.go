// Package mcp defines the interface for a Model Context Protocol (MCP) host.
//
// The host connects to MCP servers, keeps a catalogue of their tools in the
// shape chat requests expect, and executes the tool calls a model asks for.
//
// Lifecycle:
//
//  1. Call [Host.RegisterServer] for each MCP server to connect to.
//  2. Use [Host.Tools] to attach the catalogue to a request.
//  3. Use [Host.ExecuteCalls] to answer the tool calls in a response.
//  4. Call [Host.Close] to release all connections.
//
// All methods must be safe for concurrent use.
package mcp

import (
	"context"

	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// Host manages connections to MCP servers and routes tool calls to them.
type Host interface {
	// RegisterServer connects to the server described by cfg and imports its
	// tool catalogue. A server registered again under the same name replaces
	// the old connection.
	RegisterServer(ctx context.Context, cfg ServerConfig) error

	// Tools returns every registered tool sorted by name.
	Tools() []openrouter.ToolDefinition

	// ExecuteTool calls the named tool with JSON-encoded args. A Go error is
	// returned only on transport or protocol failure; tool failures are
	// reported through [ToolResult.IsError].
	ExecuteTool(ctx context.Context, name, args string) (*ToolResult, error)

	// ExecuteCalls answers every call and returns one tool message per call,
	// in call order. Tool failures become message content; only context
	// cancellation fails the batch.
	ExecuteCalls(ctx context.Context, calls []openrouter.ToolCall) ([]openrouter.Message, error)

	// Close shuts down all server connections.
	Close() error
}
