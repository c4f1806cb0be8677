// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests that answer
// generation builds and to feed controlled responses without a live backend.
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "180 degrees Celsius"},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/heychef/pkg/provider/llm"
)

// Call records a single invocation of Complete or StreamCompletion.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Zero values for response
// fields cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is emitted on the channel returned by StreamCompletion, then
	// the channel is closed.
	StreamChunks []llm.Chunk

	// ChunkDelay is slept before each streamed chunk.
	ChunkDelay time.Duration

	// StreamErr, if non-nil, is returned from StreamCompletion.
	StreamErr error

	// CompleteResponse is returned by Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned from Complete.
	CompleteErr error

	// CompleteFunc, if set, replaces CompleteResponse/CompleteErr. n is the
	// zero-based call number.
	CompleteFunc func(n int, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// StreamFunc, if set, replaces StreamChunks/StreamErr.
	StreamFunc func(n int, req llm.CompletionRequest) ([]llm.Chunk, error)

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	streamCalls   []Call
	completeCalls []Call
}

var _ llm.Provider = (*Provider)(nil)

// StreamCompletion records the call and returns a channel emitting the
// configured chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	n := len(p.streamCalls)
	p.streamCalls = append(p.streamCalls, Call{Ctx: ctx, Req: req})
	chunks, err := append([]llm.Chunk(nil), p.StreamChunks...), p.StreamErr
	if p.StreamFunc != nil {
		chunks, err = p.StreamFunc(n, req)
	}
	delay := p.ChunkDelay
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				time.Sleep(delay)
			}
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns the configured response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.completeCalls)
	p.completeCalls = append(p.completeCalls, Call{Ctx: ctx, Req: req})
	if p.CompleteFunc != nil {
		return p.CompleteFunc(n, req)
	}
	return p.CompleteResponse, p.CompleteErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CompleteCalls returns a copy of the recorded Complete calls.
func (p *Provider) CompleteCalls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.completeCalls...)
}

// StreamCalls returns a copy of the recorded StreamCompletion calls.
func (p *Provider) StreamCalls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.streamCalls...)
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamCalls = nil
	p.completeCalls = nil
}
