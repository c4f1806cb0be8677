// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (Coqui, ElevenLabs, OpenAI)
// and turns one piece of text into one playable PCM frame. Chunking and
// ordered prefetch of multiple synthesis calls live one layer up, in the
// speech package, so providers stay simple request/response adapters.
//
// Implementations must be safe for concurrent use: the speech pipeline runs
// several Synthesize calls in parallel while earlier chunks are playing.
package tts

import (
	"context"

	"github.com/MrWong99/heychef/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the complete audio as a
	// single PCM frame. An empty text returns an empty frame and no error.
	//
	// The call must respect ctx; an expired context aborts the request.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Frame, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}
