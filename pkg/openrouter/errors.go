package openrouter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConfigurationError reports an invalid client configuration: a malformed base
// address, an empty credential, or a transport that could not be constructed.
// It is returned by the stage transition that detected the problem.
type ConfigurationError struct {
	// Field names the configuration value that was rejected (e.g. "base_url").
	Field string

	// Reason is a human-readable description of the problem.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigurationError) Error() string {
	msg := "openrouter: invalid configuration"
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the HTTP transport (DNS, TLS, connection
// reset, timeout). The underlying error is passed through verbatim.
type TransportError struct {
	// Op is the operation that failed, e.g. "POST chat/completions" or "read stream".
	Op string

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("openrouter: transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports malformed or truncated response framing: an
// undecodable chunk, a chunk missing required fields, a stream that ended
// mid-line, or an empty response body.
type ProtocolError struct {
	Reason string

	// Data is the offending line or body, if available.
	Data []byte

	Err error
}

func (e *ProtocolError) Error() string {
	msg := "openrouter: protocol: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// APIError is a failure reported by the remote service, either as a non-2xx
// response or as an error document inside an event stream.
type APIError struct {
	// StatusCode is the HTTP status, or the code carried by an in-stream error.
	StatusCode int

	// Code is the provider-specific error code when present.
	Code string

	Message string

	// Metadata holds the error's metadata object (provider name, raw upstream error).
	Metadata map[string]any

	// Body is the raw response body.
	Body []byte
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("openrouter: api error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Code != "" {
		b.WriteString(" [")
		b.WriteString(e.Code)
		b.WriteString("]")
	}
	return b.String()
}

// IsRateLimit reports whether err is an [APIError] with status 429.
func IsRateLimit(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusTooManyRequests
}

// StructuredOutputNotSupportedError is returned when the target model cannot
// produce schema-constrained output.
type StructuredOutputNotSupportedError struct {
	Model string

	// Err is the remote rejection when the check happened at response time.
	Err error
}

func (e *StructuredOutputNotSupportedError) Error() string {
	msg := fmt.Sprintf("openrouter: structured output not supported by model %q", e.Model)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StructuredOutputNotSupportedError) Unwrap() error { return e.Err }

// SchemaValidationError reports a response body that does not conform to the
// attached schema.
type SchemaValidationError struct {
	SchemaName string

	// Details describes what failed, including the failing location where the
	// validator reports one.
	Details string

	Err error
}

func (e *SchemaValidationError) Error() string {
	msg := "openrouter: schema validation failed"
	if e.SchemaName != "" {
		msg += fmt.Sprintf(" for %q", e.SchemaName)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// UnsupportedOperationError is returned synchronously when an operation is not
// valid for the shape of the call, e.g. structured output on the interactive
// chat path.
type UnsupportedOperationError struct {
	Op     string
	Reason string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("openrouter: unsupported operation %s: %s", e.Op, e.Reason)
}

// InvalidRequestError reports a request that fails local validation before
// any network I/O.
type InvalidRequestError struct {
	// Field locates the problem, e.g. "messages[2].role" or "tools[0].function.name".
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Field == "" {
		return "openrouter: invalid request: " + e.Reason
	}
	return fmt.Sprintf("openrouter: invalid request: %s: %s", e.Field, e.Reason)
}
