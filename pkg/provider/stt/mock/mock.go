// Package mock provides a test double for stt.Provider.
//
//	p := &mock.Provider{Text: "what temperature"}
//	text, _ := p.Transcribe(ctx, audio)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/heychef/pkg/provider/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Func, if set, replaces Text/Err. n is the zero-based call number.
	Func func(n int, a stt.Audio) (string, error)

	// Delay is slept before returning, ignoring ctx, to model an in-flight
	// request that is allowed to complete.
	Delay time.Duration

	calls []stt.Audio
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the configured result.
func (p *Provider) Transcribe(_ context.Context, a stt.Audio) (string, error) {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, a)
	delay := p.Delay
	text, err, fn := p.Text, p.Err, p.Func
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(n, a)
	}
	return text, err
}

// Calls returns a copy of the audio passed to every Transcribe call.
func (p *Provider) Calls() []stt.Audio {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stt.Audio(nil), p.calls...)
}
