// Package observe provides observability primitives for the openrouter
// command: OpenTelemetry metrics, tracing helpers, trace-aware structured
// logging, and HTTP instrumentation for both the outbound API client and the
// metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so they can be scraped via
// /metrics. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/openrouter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// APIRequestDuration tracks time to response headers of API calls. Use
	// with attributes method, endpoint, status.
	APIRequestDuration metric.Float64Histogram

	// APIRequests counts API calls by method, endpoint, and status.
	APIRequests metric.Int64Counter

	// APIErrors counts failed operations by error kind (see [ErrorKind]).
	APIErrors metric.Int64Counter

	// Tokens counts consumed tokens by model and kind (prompt, completion).
	Tokens metric.Int64Counter

	// Cost accumulates reported credit usage by model.
	Cost metric.Float64Counter

	// ActiveStreams tracks streaming responses currently being read.
	ActiveStreams metric.Int64UpDownCounter

	// ToolExecutionDuration tracks MCP tool execution latency by tool.
	ToolExecutionDuration metric.Float64Histogram

	// ToolCalls counts tool invocations by tool and status.
	ToolCalls metric.Int64Counter

	// CacheLookups counts response cache lookups by result (hit, miss, error).
	CacheLookups metric.Int64Counter

	// HTTPRequestDuration tracks requests served by the metrics endpoint.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model inference, which routinely takes several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.APIRequestDuration, err = m.Float64Histogram("openrouter.api.request.duration",
		metric.WithDescription("Time until response headers of completion service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.APIRequests, err = m.Int64Counter("openrouter.api.requests",
		metric.WithDescription("Completion service calls by method, endpoint, and status."),
	); err != nil {
		return nil, err
	}
	if met.APIErrors, err = m.Int64Counter("openrouter.api.errors",
		metric.WithDescription("Failed operations by error kind."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("openrouter.tokens",
		metric.WithDescription("Tokens consumed by model and kind."),
	); err != nil {
		return nil, err
	}
	if met.Cost, err = m.Float64Counter("openrouter.cost",
		metric.WithDescription("Credits charged by model."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("openrouter.active_streams",
		metric.WithDescription("Streaming responses currently being read."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("openrouter.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("openrouter.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("openrouter.cache.lookups",
		metric.WithDescription("Response cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("openrouter.http.request.duration",
		metric.WithDescription("Metrics endpoint request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call it after [InitProvider] so
// the instruments bind to the configured provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ErrorKind classifies err by the client error taxonomy for use as a metric
// attribute.
func ErrorKind(err error) string {
	var (
		cfgErr   *openrouter.ConfigurationError
		trErr    *openrouter.TransportError
		protoErr *openrouter.ProtocolError
		apiErr   *openrouter.APIError
		soErr    *openrouter.StructuredOutputNotSupportedError
		svErr    *openrouter.SchemaValidationError
		uoErr    *openrouter.UnsupportedOperationError
		irErr    *openrouter.InvalidRequestError
	)
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &soErr):
		return "structured_output_unsupported"
	case errors.As(err, &apiErr):
		if openrouter.IsRateLimit(err) {
			return "rate_limit"
		}
		return "api"
	case errors.As(err, &trErr):
		return "transport"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &svErr):
		return "schema_validation"
	case errors.As(err, &uoErr):
		return "unsupported_operation"
	case errors.As(err, &irErr):
		return "invalid_request"
	case errors.As(err, &cfgErr):
		return "configuration"
	default:
		return "other"
	}
}

// RecordError counts one failed operation. Nil errors are ignored.
func (m *Metrics) RecordError(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	m.APIErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("kind", ErrorKind(err)),
		),
	)
}

// RecordUsage adds the token and cost figures of one response. A nil usage
// is ignored.
func (m *Metrics) RecordUsage(ctx context.Context, model string, u *openrouter.Usage) {
	if u == nil {
		return
	}
	m.Tokens.Add(ctx, int64(u.PromptTokens),
		metric.WithAttributes(attribute.String("model", model), attribute.String("kind", "prompt")))
	m.Tokens.Add(ctx, int64(u.CompletionTokens),
		metric.WithAttributes(attribute.String("model", model), attribute.String("kind", "completion")))
	if u.Cost > 0 {
		m.Cost.Add(ctx, u.Cost, metric.WithAttributes(attribute.String("model", model)))
	}
}

// RecordToolCall counts one tool invocation and records its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
	m.ToolExecutionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordCacheLookup counts one cache lookup with result hit, miss, or error.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
