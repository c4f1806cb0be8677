// Package listen implements the capture half of a voice turn: waiting for
// the trigger phrase on the microphone stream and recording the question
// that follows it.
//
// Both stages own the audio source for their whole duration and check their
// context once per frame, so cancellation latency is bounded by one frame.
package listen

import (
	"errors"
	"log/slog"
	"time"
)

// ErrTimeout is returned by [Recorder.Capture] when no speech was heard
// before the maximum duration elapsed.
var ErrTimeout = errors.New("listen: no speech before timeout")

// Utterance is one span of captured speech.
type Utterance struct {
	// PCM is mono signed 16-bit little-endian audio.
	PCM []byte

	SampleRate int
	Channels   int

	// Duration is the audio length of PCM.
	Duration time.Duration

	// SpeechFrames counts the frames classified as speech. Always > 0 for an
	// utterance returned by Capture.
	SpeechFrames int
}

// Option configures a [Gate] or [Recorder].
type Option func(*options)

type options struct {
	logger  *slog.Logger
	preRoll time.Duration
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPreRoll keeps up to d of audio from before the first speech frame so
// the start of the first word is not clipped. Only used by [Recorder].
// Default: 0.
func WithPreRoll(d time.Duration) Option {
	return func(o *options) { o.preRoll = d }
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
