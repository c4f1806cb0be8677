// Package speech speaks answers: it synthesizes text with a text-to-speech
// provider and plays the audio on a sink.
//
// Streamed answers are cut into sentence-sized [PlaybackChunk]s by a
// [Chunker]. Synthesis of the next chunks runs ahead while the current one
// plays, but a single collector plays chunks strictly in order, so audio
// never overlaps.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/heychef/internal/generate"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/tts"
)

var (
	// ErrSynthesis wraps text-to-speech failures.
	ErrSynthesis = errors.New("speech: synthesis failed")

	// ErrPlayback wraps audio sink failures.
	ErrPlayback = errors.New("speech: playback failed")

	// ErrPartialPlayback is returned by SpeakStream when at least one chunk
	// was skipped. The other chunks were played.
	ErrPartialPlayback = errors.New("speech: partial playback")
)

// PlaybackChunk is one sentence-sized unit of a streamed answer.
type PlaybackChunk struct {
	Seq  int
	Text string
}

// Synthesizer speaks text. It is used by one goroutine at a time.
type Synthesizer struct {
	provider    tts.Provider
	sink        audio.Sink
	voice       tts.Voice
	chunking    ChunkerConfig
	prefetch    int
	callTimeout time.Duration
	name        string
	metrics     *observe.Metrics
	onChunk     func(PlaybackChunk)
	log         *slog.Logger
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithVoice selects the voice passed to the provider.
func WithVoice(v tts.Voice) Option {
	return func(s *Synthesizer) { s.voice = v }
}

// WithChunking sets how streamed answers are cut into chunks.
func WithChunking(cfg ChunkerConfig) Option {
	return func(s *Synthesizer) { s.chunking = cfg }
}

// WithPrefetch sets how many chunks may be queued for synthesis while another
// one plays. Default: 2. Values below 1 are raised to 1.
func WithPrefetch(n int) Option {
	return func(s *Synthesizer) { s.prefetch = max(n, 1) }
}

// WithCallTimeout bounds one batch synthesis call. Default: 30s.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.callTimeout = d }
}

// WithProviderName labels provider metrics. Default: "tts".
func WithProviderName(name string) Option {
	return func(s *Synthesizer) { s.name = name }
}

// WithMetrics records provider calls, skipped chunks and time to first
// audio on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithChunkObserver calls fn for every playback chunk right before it
// starts playing.
func WithChunkObserver(fn func(PlaybackChunk)) Option {
	return func(s *Synthesizer) { s.onChunk = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.log = l }
}

// New returns a Synthesizer that speaks through p onto sink.
func New(p tts.Provider, sink audio.Sink, opts ...Option) (*Synthesizer, error) {
	if p == nil {
		return nil, errors.New("speech: provider is nil")
	}
	if sink == nil {
		return nil, errors.New("speech: sink is nil")
	}
	s := &Synthesizer{
		provider:    p,
		sink:        sink,
		prefetch:    2,
		callTimeout: 30 * time.Second,
		name:        "tts",
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type turnStartKey struct{}

// WithTurnStart marks when the answer latency of a turn starts counting,
// usually the end of transcription. Without it latency is measured from the
// start of the Speak or SpeakStream call.
func WithTurnStart(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, turnStartKey{}, t)
}

func turnStart(ctx context.Context, fallback time.Time) time.Time {
	if t, ok := ctx.Value(turnStartKey{}).(time.Time); ok {
		return t
	}
	return fallback
}

func (s *Synthesizer) synthesize(ctx context.Context, text string) (audio.Frame, error) {
	start := time.Now()
	frame, err := s.provider.Synthesize(ctx, text, s.voice)
	if s.metrics != nil {
		s.metrics.RecordProviderCall(ctx, "tts", s.name, time.Since(start), err)
	}
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return frame, nil
}

func (s *Synthesizer) play(ctx context.Context, frame audio.Frame) error {
	if len(frame.Data) == 0 {
		return nil
	}
	if err := s.sink.Play(ctx, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrPlayback, err)
	}
	return nil
}

// Speak synthesizes text in one call and plays it, blocking until playback
// ends. The synthesis call is not aborted by ctx; it is bounded by the call
// timeout instead, and its audio is discarded if ctx was cancelled
// meanwhile. Playback stops when ctx is cancelled.
func (s *Synthesizer) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	called := time.Now()
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
	frame, err := s.synthesize(callCtx, text)
	cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordTimeToFirstAudio(ctx, time.Since(turnStart(ctx, called)), false)
	}
	if s.onChunk != nil {
		s.onChunk(PlaybackChunk{Text: text})
	}
	return s.play(ctx, frame)
}

// job is a chunk whose synthesis has been started.
type job struct {
	PlaybackChunk
	done chan synthResult
}

type synthResult struct {
	frame audio.Frame
	err   error
}

// SpeakStream speaks a streamed answer and returns the concatenation of all
// received deltas.
//
// A chunk that fails to synthesize or play is logged and skipped; the
// returned error then wraps [ErrPartialPlayback]. A stream that ends without
// a final chunk yields an error wrapping [generate.ErrServiceFailure] after
// the chunks received so far have played. When ctx is cancelled, synthesis
// and playback stop and ctx.Err() is returned.
func (s *Synthesizer) SpeakStream(ctx context.Context, chunks <-chan generate.Chunk) (string, error) {
	called := time.Now()
	queue := make(chan *job, s.prefetch)
	collected := make(chan collectResult, 1)
	go func() { collected <- s.collect(ctx, queue, turnStart(ctx, called)) }()

	var (
		spoken    strings.Builder
		streamErr error
		seq       int
		chunker   = NewChunker(s.chunking)
	)

	enqueue := func(text string) bool {
		j := &job{PlaybackChunk: PlaybackChunk{Seq: seq, Text: text}, done: make(chan synthResult, 1)}
		select {
		case queue <- j:
		case <-ctx.Done():
			return false
		}
		seq++
		go func() {
			if strings.TrimSpace(j.Text) == "" {
				j.done <- synthResult{}
				return
			}
			frame, err := s.synthesize(ctx, j.Text)
			j.done <- synthResult{frame: frame, err: err}
		}()
		return true
	}

	expected := 0
read:
	for {
		var (
			c  generate.Chunk
			ok bool
		)
		select {
		case c, ok = <-chunks:
		case <-ctx.Done():
			break read
		}
		if !ok {
			if ctx.Err() == nil {
				streamErr = fmt.Errorf("%w: stream ended without final chunk", generate.ErrServiceFailure)
			}
			break
		}
		if c.Seq != expected {
			s.log.Warn("answer chunk out of sequence", "seq", c.Seq, "expected", expected)
		}
		expected = c.Seq + 1
		if c.Err != nil {
			streamErr = c.Err
			break
		}

		spoken.WriteString(c.Text)
		for _, text := range chunker.Push(c.Text) {
			if !enqueue(text) {
				break read
			}
		}
		if c.IsFinal {
			if rest := chunker.Flush(); rest != "" {
				enqueue(rest)
			}
			break
		}
	}
	close(queue)
	res := <-collected

	if err := ctx.Err(); err != nil {
		return spoken.String(), err
	}
	var errs []error
	if streamErr != nil {
		errs = append(errs, streamErr)
	}
	if res.skipped > 0 {
		if s.metrics != nil {
			s.metrics.PlaybackSkipped.Add(ctx, int64(res.skipped))
		}
		errs = append(errs, fmt.Errorf("%w: skipped %d of %d chunks", ErrPartialPlayback, res.skipped, res.total))
	}
	return spoken.String(), errors.Join(errs...)
}

type collectResult struct {
	total   int
	skipped int
}

// collect plays queued chunks in order until queue is closed.
func (s *Synthesizer) collect(ctx context.Context, queue <-chan *job, start time.Time) collectResult {
	var res collectResult
	first := true
	for j := range queue {
		res.total++
		var r synthResult
		select {
		case r = <-j.done:
		case <-ctx.Done():
			continue
		}
		if ctx.Err() != nil {
			continue
		}
		if r.err != nil {
			res.skipped++
			s.log.Warn("skipping answer chunk", "seq", j.Seq, "err", r.err)
			continue
		}
		if first && len(r.frame.Data) > 0 {
			first = false
			if s.metrics != nil {
				s.metrics.RecordTimeToFirstAudio(ctx, time.Since(start), true)
			}
		}
		if s.onChunk != nil {
			s.onChunk(j.PlaybackChunk)
		}
		if err := s.play(ctx, r.frame); err != nil {
			if ctx.Err() != nil {
				continue
			}
			res.skipped++
			s.log.Warn("skipping answer chunk", "seq", j.Seq, "err", err)
		}
	}
	return res
}
