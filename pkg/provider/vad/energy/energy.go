// Package energy implements a vad.Engine that classifies frames by their RMS
// energy. The RMS is normalised against a reference level to a pseudo
// probability, and speech start/end use separate thresholds (hysteresis) so
// a single quiet syllable does not end a segment.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/vad"
)

// DefaultReferenceRMS is the RMS treated as probability 1.0. Conversational
// speech close to a laptop microphone sits roughly between 1000 and 4000.
const DefaultReferenceRMS = 3000.0

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy vad: session closed")

// Option configures an Engine.
type Option func(*Engine)

// WithReferenceRMS overrides DefaultReferenceRMS.
func WithReferenceRMS(rms float64) Option {
	return func(e *Engine) { e.reference = rms }
}

// Engine creates energy-based VAD sessions.
type Engine struct {
	reference float64
}

// New returns an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{reference: DefaultReferenceRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession validates cfg and returns a new session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold must be in (0,1], got %v", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold must be in [0,%v], got %v", cfg.SpeechThreshold, cfg.SilenceThreshold)
	}
	if e.reference <= 0 {
		return nil, errors.New("energy vad: reference RMS must be positive")
	}
	s := &session{cfg: cfg, reference: e.reference}
	if cfg.FrameSizeMs > 0 {
		s.frameBytes = cfg.SampleRate * cfg.FrameSizeMs / 1000 * audio.BytesPerSample
	}
	return s, nil
}

type session struct {
	mu         sync.Mutex
	cfg        vad.Config
	reference  float64
	frameBytes int
	speaking   bool
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if s.frameBytes > 0 && len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := min(audio.RMS(frame)/s.reference, 1)
	ev := vad.VADEvent{Probability: p}
	switch {
	case !s.speaking && p >= s.cfg.SpeechThreshold:
		s.speaking = true
		ev.Type = vad.VADSpeechStart
	case s.speaking && p < s.cfg.SilenceThreshold:
		s.speaking = false
		ev.Type = vad.VADSpeechEnd
	case s.speaking:
		ev.Type = vad.VADSpeechContinue
	default:
		ev.Type = vad.VADSilence
	}
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
