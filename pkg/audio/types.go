// Package audio defines the PCM frame type that flows between the microphone,
// the listening stages, the speech synthesizer and the speaker, together with
// the [Source] and [Sink] device abstractions and small PCM helpers.
//
// All audio in this package is signed 16-bit little-endian PCM.
package audio

import (
	"context"
	"time"
)

// BytesPerSample is the size of one PCM16 sample.
const BytesPerSample = 2

// Frame is a fixed-size block of PCM audio. Frames are the unit read from a
// [Source] and the unit handed to voice activity and wake-word detection.
type Frame struct {
	// PCM audio data, little-endian int16.
	Data []byte

	// SampleRate in Hz (16000 for the capture path).
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks the frame start relative to the start of the stream.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. Frames with an invalid
// format report zero.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.Data), f.SampleRate, f.Channels)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the number of bytes in one frame of length d.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * BytesPerSample
}

// PCMDuration returns the duration of n bytes of PCM16 audio.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := int64(n / (BytesPerSample * channels))
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Source is a pull-based stream of fixed-size frames from an input device.
//
// ReadFrame blocks for at most about one frame duration on a live device.
// It returns io.EOF when the device stream has ended. A Source is owned by a
// single goroutine at a time.
type Source interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Sink plays audio on an output device. Play blocks until the frame has been
// fully played or ctx is cancelled.
type Sink interface {
	Play(ctx context.Context, frame Frame) error
	Close() error
}
