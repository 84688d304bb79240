package cache

import (
	"context"

	"github.com/MrWong99/openrouter/internal/resilience"
)

// Guarded wraps a [Cache] in a circuit breaker. While the breaker is open,
// calls fail fast with [resilience.ErrCircuitOpen] instead of reaching the
// backend.
type Guarded struct {
	next Cache
	cb   *resilience.CircuitBreaker
}

// NewGuarded returns next guarded by cb.
func NewGuarded(next Cache, cb *resilience.CircuitBreaker) *Guarded {
	return &Guarded{next: next, cb: cb}
}

// Get implements [Cache]. A miss counts as a success for the breaker.
func (g *Guarded) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
	)
	err := g.cb.Execute(func() error {
		var err error
		val, found, err = g.next.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return val, found, nil
}

// Set implements [Cache].
func (g *Guarded) Set(ctx context.Context, key string, value []byte) error {
	return g.cb.Execute(func() error {
		return g.next.Set(ctx, key, value)
	})
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State {
	return g.cb.State()
}

var _ Cache = (*Guarded)(nil)
