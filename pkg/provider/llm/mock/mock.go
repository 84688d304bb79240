// Package mock provides a recording test double for llm.Provider.
//
//	p := &mock.Provider{
//	    CompleteResponses: []*llm.CompletionResponse{{Content: "Hello!"}},
//	}
//
// Responses are consumed in order; once exhausted the last one repeats. Set
// the fields before the first call.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/openrouter/pkg/provider/llm"
)

// Call records one invocation of StreamCompletion or Complete.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Streams holds the chunk sequence emitted by each StreamCompletion call.
	Streams [][]llm.Chunk

	// StreamErr is returned by StreamCompletion instead of opening a channel.
	StreamErr error

	// CompleteResponses are returned by successive Complete calls.
	CompleteResponses []*llm.CompletionResponse

	CompleteErr error

	// TokenCount is returned by CountTokens. When zero, CountTokens counts
	// four characters per token.
	TokenCount int

	ModelCapabilities llm.ModelCapabilities

	StreamCalls   []Call
	CompleteCalls []Call
}

// StreamCompletion records the call and emits the next configured stream.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	n := len(p.StreamCalls)
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: cloneRequest(req)})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var chunks []llm.Chunk
	if len(p.Streams) > 0 {
		chunks = slices.Clone(p.Streams[min(n, len(p.Streams)-1)])
	}
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the next configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: cloneRequest(req)})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResponses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	return p.CompleteResponses[min(n, len(p.CompleteResponses)-1)], nil
}

// CountTokens returns TokenCount, or a four-characters-per-token estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount != 0 {
		return p.TokenCount, nil
	}
	total := 0
	for _, m := range messages {
		total += len(m.Content)/4 + 3
	}
	return total, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns copies of the recorded StreamCompletion and Complete calls.
func (p *Provider) Calls() (stream, complete []Call) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.StreamCalls), slices.Clone(p.CompleteCalls)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
}

// cloneRequest copies the message slice so later appends by the caller do not
// rewrite the record.
func cloneRequest(req llm.CompletionRequest) llm.CompletionRequest {
	req.Messages = slices.Clone(req.Messages)
	req.Tools = slices.Clone(req.Tools)
	return req
}

var _ llm.Provider = (*Provider)(nil)
