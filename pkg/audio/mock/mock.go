// Package mock provides in-memory test doubles for [audio.Source] and
// [audio.Sink].
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/heychef/pkg/audio"
)

// Source replays a scripted list of frames.
//
// When the script is exhausted it either returns io.EOF or, if Fill is
// non-nil, returns copies of *Fill forever. Delay, when set, is slept before
// every frame to emulate a real-time device.
type Source struct {
	mu     sync.Mutex
	Frames []audio.Frame
	Fill   *audio.Frame
	Delay  time.Duration

	// ReadErr, when non-nil, is returned from every ReadFrame call.
	ReadErr error

	pos    int
	reads  int
	closed bool
}

var _ audio.Source = (*Source)(nil)

// ReadFrame returns the next scripted frame.
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.ReadErr != nil {
		return audio.Frame{}, s.ReadErr
	}
	if s.closed {
		return audio.Frame{}, io.EOF
	}
	if s.pos < len(s.Frames) {
		f := s.Frames[s.pos]
		s.pos++
		return f, nil
	}
	if s.Fill != nil {
		return *s.Fill, nil
	}
	return audio.Frame{}, io.EOF
}

// Push appends frames to the script.
func (s *Source) Push(frames ...audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, frames...)
}

// Reads returns the number of ReadFrame calls.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Played records one call to [Sink.Play].
type Played struct {
	Frame audio.Frame
	Start time.Time
	End   time.Time
}

// Sink records every frame it is asked to play.
type Sink struct {
	mu sync.Mutex

	// Delay simulates playback time.
	Delay time.Duration

	// PlayErr, when non-nil, is consulted for each call; a non-nil result is
	// returned and the frame is not recorded.
	PlayErr func(frame audio.Frame) error

	played []Played
	active int
	// MaxConcurrent is the highest number of overlapping Play calls seen.
	maxConcurrent int
}

var _ audio.Sink = (*Sink)(nil)

// Play records frame after Delay.
func (s *Sink) Play(ctx context.Context, frame audio.Frame) error {
	s.mu.Lock()
	if s.PlayErr != nil {
		if err := s.PlayErr(frame); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.active++
	if s.active > s.maxConcurrent {
		s.maxConcurrent = s.active
	}
	delay := s.Delay
	s.mu.Unlock()

	start := time.Now()
	var err error
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if err != nil {
		return err
	}
	s.played = append(s.played, Played{Frame: frame, Start: start, End: time.Now()})
	return nil
}

// Played returns a copy of the recorded playbacks in call order.
func (s *Sink) Played() []Played {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Played, len(s.played))
	copy(out, s.played)
	return out
}

// MaxConcurrent returns the highest number of simultaneous Play calls.
func (s *Sink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }
