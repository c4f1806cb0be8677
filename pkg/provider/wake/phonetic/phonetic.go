// Package phonetic implements a wake.Engine that needs no vendor model: it
// cuts short voiced segments out of the frame stream with a VAD session,
// transcribes each segment in the background through an stt.Provider and
// looks for the trigger phrases in the text with a phonetic [Matcher].
//
// A hit is reported on the first Process call after the transcription
// returns, so detection latency is the transcription round trip plus at
// most one frame.
package phonetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/stt"
	"github.com/MrWong99/heychef/pkg/provider/vad"
	"github.com/MrWong99/heychef/pkg/provider/wake"
)

const (
	defaultMaxSegment   = 2500 * time.Millisecond
	defaultMinSpeech    = 200 * time.Millisecond
	defaultEndSilence   = 300 * time.Millisecond
	defaultTranscribeTO = 5 * time.Second
)

var (
	_ wake.Engine   = (*Engine)(nil)
	_ wake.Resetter = (*Engine)(nil)
)

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSegment caps the length of audio sent per transcription.
func WithMaxSegment(d time.Duration) Option {
	return func(e *Engine) { e.maxSegment = d }
}

// WithMinSpeech drops segments with less voiced audio than d.
func WithMinSpeech(d time.Duration) Option {
	return func(e *Engine) { e.minSpeech = d }
}

// WithEndSilence sets how much trailing silence closes a segment.
func WithEndSilence(d time.Duration) Option {
	return func(e *Engine) { e.endSilence = d }
}

// WithVADConfig overrides the thresholds of the segmenting VAD session.
func WithVADConfig(speech, silence float64) Option {
	return func(e *Engine) { e.speechTh, e.silenceTh = speech, silence }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine is a transcription-backed trigger-phrase detector.
type Engine struct {
	cfg     wake.Config
	stt     stt.Provider
	vad     vad.SessionHandle
	matcher Matcher
	log     *slog.Logger

	maxSegment          time.Duration
	minSpeech           time.Duration
	endSilence          time.Duration
	speechTh, silenceTh float64

	// segment state, owned by the Process caller
	seg      []byte
	segDur   time.Duration
	speech   time.Duration
	trailing time.Duration
	active   bool

	// generation invalidates in-flight transcriptions on Reset.
	generation atomic.Int64
	busy       atomic.Bool
	results    chan detection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type detection struct {
	index      int
	generation int64
}

// New validates cfg and creates an Engine. A nil stt provider or VAD engine
// is an initialisation error.
func New(cfg wake.Config, sttProvider stt.Provider, vadEngine vad.Engine, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sttProvider == nil {
		return nil, errors.New("phonetic wake: stt provider is required")
	}
	if vadEngine == nil {
		return nil, errors.New("phonetic wake: vad engine is required")
	}
	e := &Engine{
		cfg:        cfg,
		stt:        sttProvider,
		matcher:    MatcherForSensitivity(cfg.Sensitivity),
		log:        slog.Default(),
		maxSegment: defaultMaxSegment,
		minSpeech:  defaultMinSpeech,
		endSilence: defaultEndSilence,
		results:    make(chan detection, 1),
	}
	e.speechTh, e.silenceTh = vad.ThresholdsForAggressiveness(2)
	for _, o := range opts {
		o(e)
	}
	sess, err := vadEngine.NewSession(vad.Config{
		SampleRate:       cfg.SampleRate,
		SpeechThreshold:  e.speechTh,
		SilenceThreshold: e.silenceTh,
	})
	if err != nil {
		return nil, fmt.Errorf("phonetic wake: create vad session: %w", err)
	}
	e.vad = sess
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Process feeds one frame. It never blocks on transcription.
func (e *Engine) Process(frame []byte) (int, error) {
	select {
	case d := <-e.results:
		if d.generation == e.generation.Load() {
			e.resetSegment()
			return d.index, nil
		}
	default:
	}

	ev, err := e.vad.ProcessFrame(frame)
	if err != nil {
		return wake.NoDetection, fmt.Errorf("phonetic wake: vad: %w", err)
	}
	dur := audio.PCMDuration(len(frame), e.cfg.SampleRate, 1)

	switch {
	case ev.IsSpeech():
		e.active = true
		e.seg = append(e.seg, frame...)
		e.segDur += dur
		e.speech += dur
		e.trailing = 0
	case e.active:
		e.seg = append(e.seg, frame...)
		e.segDur += dur
		e.trailing += dur
		if e.trailing >= e.endSilence {
			e.finishSegment()
		}
	}
	if e.active && e.segDur >= e.maxSegment {
		e.finishSegment()
	}
	return wake.NoDetection, nil
}

func (e *Engine) finishSegment() {
	if e.speech >= e.minSpeech {
		if e.busy.CompareAndSwap(false, true) {
			pcm := e.seg
			e.seg = nil
			e.wg.Add(1)
			go e.transcribe(pcm, e.generation.Load())
		} else {
			e.log.Debug("phonetic wake: transcription busy, dropping segment", "duration", e.segDur)
		}
	}
	e.resetSegment()
}

func (e *Engine) transcribe(pcm []byte, generation int64) {
	defer e.wg.Done()
	defer e.busy.Store(false)

	ctx, cancel := context.WithTimeout(e.ctx, defaultTranscribeTO)
	defer cancel()
	text, err := e.stt.Transcribe(ctx, stt.Audio{PCM: pcm, SampleRate: e.cfg.SampleRate, Channels: 1})
	if err != nil {
		if e.ctx.Err() == nil {
			e.log.Warn("phonetic wake: transcription failed", "err", err)
		}
		return
	}
	idx, score := e.matcher.Match(text, e.cfg.Phrases)
	e.log.Debug("phonetic wake: segment transcribed", "text", text, "match", idx, "score", score)
	if idx < 0 {
		return
	}
	select {
	case e.results <- detection{index: idx, generation: generation}:
	default:
	}
}

func (e *Engine) resetSegment() {
	e.seg = e.seg[:0]
	e.segDur, e.speech, e.trailing = 0, 0, 0
	e.active = false
}

// Reset discards buffered audio and any pending or in-flight detection.
func (e *Engine) Reset() {
	e.generation.Add(1)
	select {
	case <-e.results:
	default:
	}
	e.resetSegment()
	e.vad.Reset()
}

// Close stops background transcriptions and releases the VAD session.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		e.cancel()
		e.wg.Wait()
		err = e.vad.Close()
	})
	return err
}

// Factory returns a wake.Factory producing phonetic engines that share
// sttProvider and vadEngine.
func Factory(sttProvider stt.Provider, vadEngine vad.Engine, opts ...Option) wake.Factory {
	return func(cfg wake.Config) (wake.Engine, error) {
		return New(cfg, sttProvider, vadEngine, opts...)
	}
}
