package resilience

import (
	"context"

	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across TTS backends.
//
// Every entry is called with the same Voice. Voice IDs are provider
// specific, so fallbacks should be backends that accept an empty or shared
// voice ID.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Breakers exposes the per-backend breakers for health reporting.
func (f *TTSFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Synthesize runs the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Frame, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (audio.Frame, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices lists the primary's voices when it supports listing.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	if vl, ok := f.group.Primary().(tts.VoiceLister); ok {
		return vl.ListVoices(ctx)
	}
	return nil, nil
}
