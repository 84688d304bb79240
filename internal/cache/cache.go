// Package cache stores completion responses keyed by the exact request
// payload, so identical non-streaming requests are answered without a round
// trip to the completion service.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// keyPrefix namespaces cache entries in a shared store.
const keyPrefix = "openrouter:resp:v1:"

// Cache is a byte-oriented response store. Implementations must be safe for
// concurrent use.
type Cache interface {
	// Get returns the value for key. found is false on a miss; err is
	// reserved for backend failures.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key with the implementation's TTL.
	Set(ctx context.Context, key string, value []byte) error
}

// Key derives the cache key of payload from a SHA-256 of its bytes. Payloads
// serialise deterministically, so equal requests share a key.
func Key(payload *openrouter.RequestPayload) string {
	sum := sha256.Sum256(payload.Bytes())
	return keyPrefix + hex.EncodeToString(sum[:])
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process [Cache], used when no Redis address is configured
// and in tests.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory returns an empty in-process cache. A ttl of zero or less keeps
// entries until the process exits.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{items: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// Get implements [Cache].
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements [Cache].
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.items[key] = e
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Redis)(nil)
)
