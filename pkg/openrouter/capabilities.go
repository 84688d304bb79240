package openrouter

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CapabilityResolver answers whether a model accepts schema-constrained
// output. known is false when the resolver cannot tell; the check is then
// deferred to the service's response.
type CapabilityResolver interface {
	StructuredOutput(ctx context.Context, model string) (supported, known bool)
}

// StaticCapabilities resolves capabilities from a table of model-id prefixes.
// The longest matching prefix wins.
type StaticCapabilities map[string]bool

// DefaultCapabilities returns the built-in prefix table.
func DefaultCapabilities() StaticCapabilities {
	return StaticCapabilities{
		"openai/gpt-4o":            true,
		"openai/gpt-4.1":           true,
		"openai/gpt-5":             true,
		"openai/o1":                true,
		"openai/o3":                true,
		"openai/o4":                true,
		"openai/gpt-4-turbo":       false,
		"openai/gpt-4":             false,
		"openai/gpt-3.5-turbo":     false,
		"google/gemini":            true,
		"mistralai/":               true,
		"x-ai/grok":                true,
		"anthropic/claude-3":       false,
		"anthropic/claude-2":       false,
		"anthropic/claude-instant": false,
		"meta-llama/llama-2":       false,
	}
}

// StructuredOutput implements [CapabilityResolver].
func (s StaticCapabilities) StructuredOutput(_ context.Context, model string) (supported, known bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	best := -1
	for prefix, ok := range s {
		p := strings.ToLower(prefix)
		if strings.HasPrefix(model, p) && len(p) > best {
			best = len(p)
			supported = ok
		}
	}
	return supported, best >= 0
}

// ModelLister lists the models offered by the service. [*ModelsAPI]
// implements it.
type ModelLister interface {
	List(ctx context.Context) ([]Model, error)
}

// ModelsCapabilities resolves capabilities from the supported_parameters
// advertised by the model listing. The listing is fetched lazily and cached
// for TTL. Models missing from the listing or listed without parameters, and
// listing failures, resolve as unknown.
type ModelsCapabilities struct {
	lister ModelLister
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	fetched time.Time
	params  map[string][]string
}

// NewModelsCapabilities returns a resolver backed by lister. A non-positive
// ttl caches the listing for an hour.
func NewModelsCapabilities(lister ModelLister, ttl time.Duration) *ModelsCapabilities {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ModelsCapabilities{lister: lister, ttl: ttl, now: time.Now}
}

// StructuredOutput implements [CapabilityResolver].
func (m *ModelsCapabilities) StructuredOutput(ctx context.Context, model string) (supported, known bool) {
	params, ok := m.lookup(ctx, model)
	if !ok || len(params) == 0 {
		return false, false
	}
	for _, p := range params {
		if p == "response_format" || p == "structured_outputs" {
			return true, true
		}
	}
	return false, true
}

func (m *ModelsCapabilities) lookup(ctx context.Context, model string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.params == nil || m.now().Sub(m.fetched) > m.ttl {
		models, err := m.lister.List(ctx)
		if err != nil {
			return nil, false
		}
		m.params = make(map[string][]string, len(models))
		for _, md := range models {
			m.params[md.ID] = md.SupportedParameters
		}
		m.fetched = m.now()
	}
	p, ok := m.params[model]
	return p, ok
}

var (
	_ CapabilityResolver = StaticCapabilities(nil)
	_ CapabilityResolver = (*ModelsCapabilities)(nil)
	_ ModelLister        = (*ModelsAPI)(nil)
)
