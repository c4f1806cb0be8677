package resilience

import (
	"context"

	"github.com/MrWong99/heychef/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across STT backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Breakers exposes the per-backend breakers for health reporting.
func (f *STTFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Transcribe runs the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, a stt.Audio) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, a)
	})
}
