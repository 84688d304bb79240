package observe

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RoundTripperFunc adapts a function to [http.RoundTripper].
type RoundTripperFunc func(*http.Request) (*http.Response, error)

// RoundTrip implements [http.RoundTripper].
func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Transport returns an [http.RoundTripper] that records
// [Metrics.APIRequests] and [Metrics.APIRequestDuration] for each exchange
// with the completion service and logs it at debug level. A nil next uses
// [http.DefaultTransport].
//
// The duration covers the time to response headers; streaming bodies are
// read after RoundTrip returns.
func Transport(next http.RoundTripper, m *Metrics) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		duration := time.Since(start)

		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("endpoint", endpoint(r.URL.Path)),
			attribute.String("status", status),
		)
		ctx := r.Context()
		m.APIRequests.Add(ctx, 1, attrs)
		m.APIRequestDuration.Record(ctx, duration.Seconds(), attrs)

		Logger(ctx).DebugContext(ctx, "api exchange",
			"method", r.Method,
			"endpoint", endpoint(r.URL.Path),
			"status", status,
			"request_id", r.Header.Get("X-Request-ID"),
			"duration", duration,
		)
		return resp, err
	})
}

// endpoint reduces a request path to the API operation so the metric
// attribute stays low-cardinality regardless of the base URL prefix.
func endpoint(path string) string {
	for _, known := range []string{"chat/completions", "completions", "models"} {
		if strings.HasSuffix(path, "/"+known) {
			return known
		}
	}
	return "other"
}
