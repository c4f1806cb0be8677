// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one complete utterance into text with a single blocking
// call. Utterances are short (a spoken question), so every backend here is
// used in batch mode even when the underlying service also offers streaming.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"

	"github.com/MrWong99/heychef/pkg/audio"
)

// Audio is a captured utterance handed to a provider.
type Audio struct {
	// PCM is signed 16-bit little-endian audio.
	PCM []byte

	// SampleRate in Hz. Most backends expect 16000.
	SampleRate int

	// Channels is the channel count; 1 for the capture path.
	Channels int
}

// Duration returns the playback length of the audio.
func (a Audio) Duration() time.Duration {
	return audio.PCMDuration(len(a.PCM), a.SampleRate, a.Channels)
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe returns the recognized text for a. A blank result is not an
	// error at this level; callers decide how to treat it. Errors are transport
	// or service failures and may be transient.
	Transcribe(ctx context.Context, a Audio) (string, error)
}
