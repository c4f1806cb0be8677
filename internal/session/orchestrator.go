// Package session runs the voice question-answering loop.
//
// An [Orchestrator] owns one session at a time. A single worker goroutine
// moves the session through wake-word detection, recording, transcription,
// answer generation and speech, turn after turn, until it is stopped. Other
// goroutines only start and stop sessions and read immutable [Snapshot]s.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/heychef/internal/generate"
	"github.com/MrWong99/heychef/internal/listen"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/internal/resilience"
	"github.com/MrWong99/heychef/internal/speech"
	"github.com/MrWong99/heychef/internal/transcribe"
)

var (
	// ErrFatalStartup wraps failures that prevent a session from starting,
	// such as a wake-word engine that cannot be initialised. They are not
	// retried.
	ErrFatalStartup = errors.New("session: fatal startup error")

	// ErrRunning is returned by operations that need a stopped session.
	ErrRunning = errors.New("session: session is running")
)

// Gate waits for the trigger phrase.
type Gate interface {
	WaitForTrigger(ctx context.Context) error
	Close() error
}

// Recorder captures the spoken question.
type Recorder interface {
	Capture(ctx context.Context, maxDuration, maxSilence time.Duration) (listen.Utterance, error)
}

// Transcriber converts an utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, u listen.Utterance) (string, error)
}

// Generator produces answers.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (string, error)
	GenerateStream(ctx context.Context, req generate.Request) (<-chan generate.Chunk, error)
}

// Speaker plays answers.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	SpeakStream(ctx context.Context, chunks <-chan generate.Chunk) (string, error)
}

// Deps are the pipeline stages used by every session.
type Deps struct {
	// OpenGate initialises the wake-word gate when a session starts. Its
	// error is reported as [ErrFatalStartup].
	OpenGate func() (Gate, error)

	Recorder    Recorder
	Transcriber Transcriber
	Generator   Generator
	Speaker     Speaker
}

// Timings bound the stages of a turn.
type Timings struct {
	// MaxDuration caps one recording. Default: 15s.
	MaxDuration time.Duration

	// MaxSilence ends a recording after speech. Default: 1s.
	MaxSilence time.Duration

	// CallTimeout bounds a single transcription or batch generation call.
	// Default: 30s.
	CallTimeout time.Duration

	// RetryBackoff is waited before the single retry of a failed stage.
	// Default: 250ms.
	RetryBackoff time.Duration
}

func (t Timings) withDefaults() Timings {
	if t.MaxDuration <= 0 {
		t.MaxDuration = 15 * time.Second
	}
	if t.MaxSilence <= 0 {
		t.MaxSilence = time.Second
	}
	if t.CallTimeout <= 0 {
		t.CallTimeout = 30 * time.Second
	}
	if t.RetryBackoff < 0 {
		t.RetryBackoff = 0
	} else if t.RetryBackoff == 0 {
		t.RetryBackoff = 250 * time.Millisecond
	}
	return t
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithTimings sets recording limits, call timeouts and the retry backoff.
// A negative RetryBackoff disables the wait.
func WithTimings(t Timings) Option {
	return func(o *Orchestrator) { o.timings = t.withDefaults() }
}

// WithProfiles sets the initial profile table. Default:
// [generate.DefaultProfiles].
func WithProfiles(t generate.ProfileTable) Option {
	return func(o *Orchestrator) {
		c := t.Clone()
		o.profiles.Store(&c)
	}
}

// WithHistoryBudget limits the estimated tokens of history sent to the model.
// Older turns are left out of the request but stay in the session history.
// Zero sends all turns.
func WithHistoryBudget(tokens int) Option {
	return func(o *Orchestrator) { o.historyBudget = tokens }
}

// WithMetrics records stage durations, turn outcomes, retries and fallbacks.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStateObserver registers fn to be called with every state the session
// enters, in order, before the matching snapshot is published. fn runs
// synchronously on the goroutine changing the
// state and must not block or call back into the Orchestrator.
func WithStateObserver(fn func(State)) Option {
	return func(o *Orchestrator) { o.observeState = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// published pairs a snapshot with a channel closed when it is superseded.
type published struct {
	snap    Snapshot
	changed chan struct{}
}

// Orchestrator runs at most one session at a time.
type Orchestrator struct {
	deps          Deps
	timings       Timings
	historyBudget int
	metrics       *observe.Metrics
	log           *slog.Logger
	observeState  func(State)

	profiles atomic.Pointer[generate.ProfileTable]
	current  atomic.Pointer[published]

	// mu serialises Start, RequestStop, ClearHistory and the end of a run.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New returns an Orchestrator in the Idle state.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if deps.OpenGate == nil {
		errs = append(errs, errors.New("session: OpenGate is nil"))
	}
	if deps.Recorder == nil {
		errs = append(errs, errors.New("session: Recorder is nil"))
	}
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("session: Transcriber is nil"))
	}
	if deps.Generator == nil {
		errs = append(errs, errors.New("session: Generator is nil"))
	}
	if deps.Speaker == nil {
		errs = append(errs, errors.New("session: Speaker is nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		deps:    deps,
		timings: Timings{}.withDefaults(),
		log:     slog.Default(),
	}
	defaults := generate.DefaultProfiles()
	o.profiles.Store(&defaults)
	for _, opt := range opts {
		opt(o)
	}
	if err := o.Profiles().Validate(); err != nil {
		return nil, err
	}
	o.current.Store(&published{snap: Snapshot{State: Idle, Mode: generate.ModeNormal}, changed: make(chan struct{})})
	return o, nil
}

// Profiles returns the active profile table.
func (o *Orchestrator) Profiles() generate.ProfileTable {
	return *o.profiles.Load()
}

// SetProfiles replaces the profile table. A running session uses the new
// table from its next turn on.
func (o *Orchestrator) SetProfiles(t generate.ProfileTable) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t = t.Clone()
	o.profiles.Store(&t)
	return nil
}

// Snapshot returns the current session view. Two calls without an
// intervening change return equal values.
func (o *Orchestrator) Snapshot() Snapshot {
	s := o.current.Load().snap
	s.History = slices.Clone(s.History)
	return s
}

// WaitChange blocks until a snapshot newer than version is published and
// returns the latest one. Versions published in between are not reported
// individually; use [WithStateObserver] to see every state.
func (o *Orchestrator) WaitChange(ctx context.Context, version uint64) (Snapshot, error) {
	for {
		p := o.current.Load()
		if p.snap.Version > version {
			return o.Snapshot(), nil
		}
		select {
		case <-p.changed:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

// update publishes a modified copy of the current snapshot.
func (o *Orchestrator) update(fn func(*Snapshot)) Snapshot {
	for {
		old := o.current.Load()
		next := old.snap
		fn(&next)
		next.Version = old.snap.Version + 1
		p := &published{snap: next, changed: make(chan struct{})}
		if o.current.CompareAndSwap(old, p) {
			close(old.changed)
			return next
		}
	}
}

func (o *Orchestrator) setState(s State) {
	o.entered(s)
	o.update(func(sn *Snapshot) { sn.State = s })
}

func (o *Orchestrator) entered(s State) {
	if o.observeState != nil {
		o.observeState(s)
	}
}

// Start validates cfg, initialises the wake-word gate and launches the
// worker. It returns an error wrapping [ErrFatalStartup] when the session
// cannot start and [ErrRunning] when a session is already running. The
// session keeps running after ctx is done; use [Orchestrator.RequestStop].
func (o *Orchestrator) Start(ctx context.Context, cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunning
	}

	if cfg.Mode == "" {
		cfg.Mode = generate.ModeNormal
	}
	if _, err := o.Profiles().Lookup(cfg.Mode); err != nil {
		return fmt.Errorf("%w: %w", ErrFatalStartup, err)
	}
	gate, err := o.deps.OpenGate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatalStartup, err)
	}
	if cfg.Recipe == "" {
		o.log.Warn("starting session without recipe text")
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(observe.WithSession(context.WithoutCancel(ctx), id))
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})
	o.runErr = nil

	o.entered(Idle)
	o.update(func(s *Snapshot) {
		var history []Turn
		if cfg.KeepHistory {
			history = s.History
		}
		*s = Snapshot{
			Version:    s.Version,
			SessionID:  id,
			State:      Idle,
			Running:    true,
			Mode:       cfg.Mode,
			Streaming:  cfg.Streaming,
			UseHistory: cfg.UseHistory,
			History:    history,
			StartedAt:  time.Now().UTC(),
		}
	})
	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(runCtx, 1)
	}
	observe.Logger(runCtx).Info("session started", "mode", cfg.Mode, "streaming", cfg.Streaming, "use_history", cfg.UseHistory)

	go o.run(runCtx, gate, cfg, o.done)
	return nil
}

// RequestStop asks the running session to stop. It returns immediately;
// use [Orchestrator.Wait] to block until the worker has finished. Calling it
// without a running session is a no-op.
func (o *Orchestrator) RequestStop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Wait blocks until the current session has stopped and returns the error
// that ended it, nil for a requested stop. Without a session it returns nil
// immediately.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runErr
}

// ClearHistory empties the history of a stopped session, so a following
// start with [Config.KeepHistory] begins fresh.
func (o *Orchestrator) ClearHistory() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrRunning
	}
	o.update(func(s *Snapshot) { s.History = nil })
	return nil
}

// run is the worker. It owns the session until it returns.
func (o *Orchestrator) run(ctx context.Context, gate Gate, cfg Config, done chan struct{}) {
	log := observe.Logger(ctx)
	err := o.loop(ctx, gate, cfg)

	if cerr := gate.Close(); cerr != nil {
		log.Warn("closing wake gate", "err", cerr)
	}
	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, -1)
	}

	o.mu.Lock()
	o.running = false
	o.cancel()
	o.cancel = nil
	o.runErr = err
	o.entered(Stopped)
	o.update(func(s *Snapshot) {
		s.State = Stopped
		s.Running = false
		if err != nil {
			s.LastError = err.Error()
		}
	})
	o.mu.Unlock()
	close(done)

	if err != nil {
		log.Error("session ended", "err", err)
	} else {
		log.Info("session stopped")
	}
}

// errStop ends the loop without an error.
var errStop = errors.New("stop")

func (o *Orchestrator) loop(ctx context.Context, gate Gate, cfg Config) error {
	for {
		o.setState(ListeningForWake)
		if err := gate.WaitForTrigger(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session: wake gate: %w", err)
		}
		if err := o.turn(ctx, cfg); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
}

// stage marks the start of a pipeline stage and returns a function that
// ends its span and records its duration.
func (o *Orchestrator) stage(ctx context.Context, name string, s State) (context.Context, func(err error)) {
	o.setState(s)
	ctx, span := observe.StartSpan(ctx, name)
	start := time.Now()
	return ctx, func(err error) {
		if err != nil && !isCancel(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if o.metrics != nil {
			o.metrics.RecordStage(ctx, name, time.Since(start))
		}
	}
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// retryPolicy retries a stage once when its error matches one of the given
// transient failures.
func (o *Orchestrator) retryPolicy(ctx context.Context, stage string, transient ...error) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		Retries: 1,
		Backoff: o.timings.RetryBackoff,
		Retryable: func(err error) bool {
			for _, t := range transient {
				if errors.Is(err, t) {
					return true
				}
			}
			return false
		},
		OnRetry: func(attempt int, err error) {
			observe.Logger(ctx).Warn("retrying stage", "stage", stage, "attempt", attempt, "err", err)
			if o.metrics != nil {
				o.metrics.RecordRetry(ctx, stage)
			}
		},
	}
}

// callCtx detaches an external call from cancellation so that a stop
// request lets it finish, bounded by the call timeout.
func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.timings.CallTimeout)
}

func (o *Orchestrator) outcome(ctx context.Context, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, outcome)
	}
}

// turn runs one question and answer. It returns errStop when the session was
// stopped and another error only when the audio device failed.
func (o *Orchestrator) turn(ctx context.Context, cfg Config) error {
	turnID := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "turn", trace.WithAttributes(attribute.String("turn.id", turnID)))
	defer span.End()
	log := observe.Logger(ctx).With("turn_id", turnID)

	// Record.
	rctx, end := o.stage(ctx, observe.StageRecord, Recording)
	u, err := o.deps.Recorder.Capture(rctx, o.timings.MaxDuration, o.timings.MaxSilence)
	end(err)
	switch {
	case ctx.Err() != nil:
		o.outcome(ctx, observe.OutcomeCancelled)
		return errStop
	case errors.Is(err, listen.ErrTimeout):
		log.Debug("no speech after trigger")
		o.outcome(ctx, observe.OutcomeNoSpeech)
		return nil
	case err != nil:
		return fmt.Errorf("session: record: %w", err)
	}

	profile, err := o.Profiles().Lookup(cfg.Mode)
	if err != nil {
		// SetProfiles validates every mode, so this cannot happen after Start.
		return fmt.Errorf("session: %w", err)
	}

	// Transcribe.
	tctx, end := o.stage(ctx, observe.StageTranscribe, Transcribing)
	question, err := resilience.Retry(tctx, o.retryPolicy(tctx, observe.StageTranscribe, transcribe.ErrServiceFailure),
		func(c context.Context) (string, error) {
			cc, cancel := o.callCtx(c)
			defer cancel()
			return o.deps.Transcriber.Transcribe(cc, u)
		})
	end(err)
	transcribed := time.Now()
	switch {
	case ctx.Err() != nil:
		o.outcome(ctx, observe.OutcomeCancelled)
		return errStop
	case errors.Is(err, transcribe.ErrEmptyAudio):
		log.Debug("empty transcript")
		o.outcome(ctx, observe.OutcomeEmpty)
		return nil
	case err != nil:
		log.Warn("transcription failed", "err", err)
		o.setState(Generating)
		return o.fallback(ctx, observe.StageTranscribe, profile)
	}
	log.Info("question", "text", question)

	req := generate.Request{
		Recipe:     cfg.Recipe,
		Question:   question,
		Profile:    profile,
		UseHistory: cfg.UseHistory,
	}
	if cfg.UseHistory {
		req.History = historyMessages(o.current.Load().snap.History, o.historyBudget)
	}
	speakCtx := speech.WithTurnStart(ctx, transcribed)

	if cfg.Streaming {
		return o.streamAnswer(ctx, speakCtx, req, turnID, cfg.Mode, log)
	}
	return o.batchAnswer(ctx, speakCtx, req, turnID, cfg.Mode, log)
}

func (o *Orchestrator) batchAnswer(ctx, speakCtx context.Context, req generate.Request, turnID string, mode generate.Mode, log *slog.Logger) error {
	gctx, end := o.stage(ctx, observe.StageGenerate, Generating)
	answer, err := resilience.Retry(gctx, o.retryPolicy(gctx, observe.StageGenerate, generate.ErrServiceFailure),
		func(c context.Context) (string, error) {
			cc, cancel := o.callCtx(c)
			defer cancel()
			return o.deps.Generator.Generate(cc, req)
		})
	end(err)
	switch {
	case ctx.Err() != nil:
		o.outcome(ctx, observe.OutcomeCancelled)
		return errStop
	case err != nil:
		log.Warn("generation failed", "err", err)
		return o.fallback(ctx, observe.StageGenerate, req.Profile)
	}

	sctx, end := o.stage(speakCtx, observe.StageSpeak, Speaking)
	_, err = resilience.Retry(sctx, o.retryPolicy(sctx, observe.StageSpeak, speech.ErrSynthesis),
		func(c context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Speaker.Speak(c, answer)
		})
	end(err)
	if ctx.Err() != nil {
		o.outcome(ctx, observe.OutcomeCancelled)
		return errStop
	}
	if err != nil {
		log.Warn("speaking answer failed", "err", err)
	}
	o.appendTurn(turnID, req.Question, answer, mode)
	o.outcome(ctx, observe.OutcomeAnswered)
	return nil
}

func (o *Orchestrator) streamAnswer(ctx, speakCtx context.Context, req generate.Request, turnID string, mode generate.Mode, log *slog.Logger) error {
	gctx, end := o.stage(ctx, observe.StageGenerate, Generating)
	stream, err := resilience.Retry(gctx, o.retryPolicy(gctx, observe.StageGenerate, generate.ErrServiceFailure),
		func(c context.Context) (<-chan generate.Chunk, error) {
			return o.deps.Generator.GenerateStream(c, req)
		})
	end(err)
	switch {
	case ctx.Err() != nil:
		o.outcome(ctx, observe.OutcomeCancelled)
		return errStop
	case err != nil:
		log.Warn("opening answer stream failed", "err", err)
		return o.fallback(ctx, observe.StageGenerate, req.Profile)
	}

	sctx, end := o.stage(speakCtx, observe.StageSpeak, Speaking)
	spoken, err := o.deps.Speaker.SpeakStream(sctx, stream)
	end(err)
	if ctx.Err() != nil {
		o.outcome(ctx, observe.OutcomeCancelled)
		return errStop
	}
	if err != nil {
		log.Warn("streamed answer incomplete", "err", err)
	}
	if spoken != "" {
		o.appendTurn(turnID, req.Question, spoken, mode)
	}
	if errors.Is(err, generate.ErrServiceFailure) {
		return o.fallback(ctx, observe.StageGenerate, req.Profile)
	}
	o.outcome(ctx, observe.OutcomeAnswered)
	return nil
}

// fallback speaks the profile's fallback phrase after a failed stage.
func (o *Orchestrator) fallback(ctx context.Context, stage string, p generate.Profile) error {
	if o.metrics != nil {
		o.metrics.RecordFallback(ctx, stage)
	}
	o.outcome(ctx, observe.OutcomeFallback)
	if err := o.deps.Speaker.Speak(ctx, p.Fallback); err != nil {
		if ctx.Err() != nil {
			return errStop
		}
		observe.Logger(ctx).Warn("speaking fallback failed", "err", err)
	}
	if ctx.Err() != nil {
		return errStop
	}
	return nil
}

// appendTurn publishes the new history in a single snapshot.
func (o *Orchestrator) appendTurn(id, question, answer string, mode generate.Mode) {
	o.update(func(s *Snapshot) {
		h := make([]Turn, len(s.History), len(s.History)+1)
		copy(h, s.History)
		s.History = append(h, Turn{ID: id, Question: question, Answer: answer, Mode: mode, At: time.Now().UTC()})
	})
}
