// Package mock provides a test double for the tts.Provider interface.
//
// By default each Synthesize call returns BytesPerChar bytes of silence per
// input character so tests can tell chunks apart by length:
//
//	p := &mock.Provider{BytesPerChar: 2, SampleRate: 16000}
//	frame, _ := p.Synthesize(ctx, "Stir well.", tts.Voice{})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Text  string
	Voice tts.Voice
	Start time.Time
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// BytesPerChar controls the size of the returned frame. Default 2.
	BytesPerChar int

	// SampleRate of returned frames. Default 16000.
	SampleRate int

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// Func, if set, replaces the default behaviour. n is the zero-based call
	// number.
	Func func(n int, text string) (audio.Frame, error)

	// Delay is waited before returning. The wait aborts when ctx is done.
	Delay time.Duration

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	calls         []Call
	inFlight      int
	maxConcurrent int
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// Synthesize records the call and returns the configured result.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Frame, error) {
	p.mu.Lock()
	n := len(p.calls)
	p.calls = append(p.calls, Call{Text: text, Voice: voice, Start: time.Now()})
	p.inFlight++
	p.maxConcurrent = max(p.maxConcurrent, p.inFlight)
	delay, fn, err := p.Delay, p.Func, p.Err
	bpc, rate := p.BytesPerChar, p.SampleRate
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(n, text)
	}
	if err != nil {
		return audio.Frame{}, err
	}
	if bpc <= 0 {
		bpc = 2
	}
	if rate <= 0 {
		rate = 16000
	}
	return audio.Frame{Data: make([]byte, len(text)*bpc), SampleRate: rate, Channels: 1}, nil
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tts.Voice(nil), p.Voices...), nil
}

// Calls returns a copy of all recorded Synthesize calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Texts returns the text of every Synthesize call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Text
	}
	return out
}

// MaxConcurrent reports the highest number of simultaneous Synthesize calls.
func (p *Provider) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxConcurrent
}
