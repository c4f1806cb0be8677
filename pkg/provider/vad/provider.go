// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own smoothing state so
// the wake gate and the utterance recorder can classify the same device
// stream independently.
//
// ProcessFrame is synchronous and must not block: it sits inside the per-frame
// capture loop whose latency bounds cancellation.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds (10, 20
	// or 30). Zero accepts any frame length.
	FrameSizeMs int

	// SpeechThreshold is the probability above which a frame is classified as
	// speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech segment
	// is considered ended. Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// SessionHandle is an active VAD session for a single audio stream. It is not
// safe for concurrent use.
type SessionHandle interface {
	// ProcessFrame analyses a single PCM16 frame and returns the detection
	// result.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. NewSession may be called from
// multiple goroutines.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}

// ThresholdsForAggressiveness maps a webrtc-style aggressiveness level (0–3)
// to speech/silence probability thresholds. Higher levels need louder input
// before a frame counts as speech. Out-of-range values are clamped.
func ThresholdsForAggressiveness(level int) (speech, silence float64) {
	level = min(max(level, 0), 3)
	speech = 0.25 + 0.15*float64(level)
	return speech, speech * 0.7
}
