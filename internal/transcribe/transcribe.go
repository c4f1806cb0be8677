// Package transcribe turns a captured utterance into text with a single
// speech-to-text call.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/heychef/internal/listen"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/pkg/provider/stt"
)

var (
	// ErrEmptyAudio is returned when the utterance has no samples or the
	// service heard nothing. It is an expected outcome, not a failure.
	ErrEmptyAudio = errors.New("transcribe: empty audio")

	// ErrServiceFailure wraps errors from the speech-to-text service. These
	// may be transient.
	ErrServiceFailure = errors.New("transcribe: service failure")
)

// Transcriber wraps an [stt.Provider]. It does not retry.
type Transcriber struct {
	provider stt.Provider
	name     string
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithProviderName labels provider metrics. Default: "stt".
func WithProviderName(name string) Option {
	return func(t *Transcriber) { t.name = name }
}

// WithMetrics records provider latency and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Transcriber) { t.log = l }
}

// New returns a Transcriber using p.
func New(p stt.Provider, opts ...Option) (*Transcriber, error) {
	if p == nil {
		return nil, errors.New("transcribe: provider is nil")
	}
	t := &Transcriber{provider: p, name: "stt", log: slog.Default()}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe returns the trimmed transcript of u.
func (t *Transcriber) Transcribe(ctx context.Context, u listen.Utterance) (string, error) {
	if len(u.PCM) == 0 || u.SampleRate <= 0 {
		return "", ErrEmptyAudio
	}

	start := time.Now()
	text, err := t.provider.Transcribe(ctx, stt.Audio{
		PCM:        u.PCM,
		SampleRate: u.SampleRate,
		Channels:   max(u.Channels, 1),
	})
	if t.metrics != nil {
		t.metrics.RecordProviderCall(ctx, "stt", t.name, time.Since(start), err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceFailure, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyAudio
	}
	t.log.Debug("transcribed utterance", "duration", u.Duration, "chars", len(text))
	return text, nil
}
