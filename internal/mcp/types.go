package mcp

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name must be unique within a single [Host]. Used in log messages and
	// errors.
	Name string

	Transport Transport

	// Command is the executable (with optional arguments) launched when
	// Transport is [TransportStdio].
	Command string

	// URL is the endpoint used when Transport is [TransportStreamableHTTP].
	URL string

	// Env holds additional environment variables for the subprocess. May be
	// nil.
	Env map[string]string
}

// ToolResult holds the outcome of a single tool execution.
type ToolResult struct {
	// Content is the tool's textual output, ready to be sent back to the
	// model as a tool message.
	Content string

	// IsError marks an application-level failure reported by the tool. Content
	// then carries the error message.
	IsError bool

	// DurationMs is the wall-clock execution time in milliseconds.
	DurationMs int64
}
