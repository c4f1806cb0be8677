// Package app wires all Hey Chef subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control surface and the optional autostarted
// session, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithAudioSource, WithAudioSink, WithRecipeStore, etc.). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/heychef/internal/config"
	"github.com/MrWong99/heychef/internal/control"
	"github.com/MrWong99/heychef/internal/generate"
	"github.com/MrWong99/heychef/internal/health"
	"github.com/MrWong99/heychef/internal/listen"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/internal/recipe"
	"github.com/MrWong99/heychef/internal/resilience"
	"github.com/MrWong99/heychef/internal/session"
	"github.com/MrWong99/heychef/internal/speech"
	"github.com/MrWong99/heychef/internal/transcribe"
	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/vad"
	"github.com/MrWong99/heychef/pkg/provider/wake"
)

// shutdownGrace bounds how long Run waits for the HTTP server to drain.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes of the Hey Chef voice assistant.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	source audio.Source
	sink   audio.Sink
	store  recipe.Store
	notion recipe.Getter

	recipes  *recipe.Loader
	speaker  *SwitchSpeaker
	orch     *session.Orchestrator
	sessions *SessionManager
	control  *control.Server
	health   *health.Handler
	mux      *http.ServeMux

	// metricsHandler serves GET /metrics. Default: promhttp.Handler().
	metricsHandler http.Handler

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAudioSource injects the microphone instead of starting the configured
// capture command.
func WithAudioSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithAudioSink injects the speaker instead of starting the configured
// playback command.
func WithAudioSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithRecipeStore injects a recipe store instead of connecting to
// recipe.postgres_dsn.
func WithRecipeStore(s recipe.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotion injects the Notion recipe source instead of creating a client
// from recipe.notion.
func WithNotion(g recipe.Getter) Option {
	return func(a *App) { a.notion = g }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler mounted on GET /metrics, typically
// [observe.Telemetry.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel passes the level variable of the process logger so that
// config reloads can change it.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New opens the audio devices and recipe backends synchronously. The wake
// engine is only initialised when a session starts.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers are required")
	}
	if err := providers.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 2. Recipe sources ────────────────────────────────────────────────
	if err := a.initRecipes(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recipes: %w", err)
	}

	// ── 3. Pipeline stages + orchestrator ────────────────────────────────
	if err := a.initSession(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 4. Control surface, health, metrics ──────────────────────────────
	a.initHTTP()

	a.sessions = NewSessionManager(SessionManagerConfig{
		Config:       cfg,
		Session:      a.orch,
		Profiles:     a.orch,
		Control:      a.control,
		Speaker:      a.speaker,
		BuildSpeaker: a.buildSpeaker,
		LogLevel:     a.logLevel,
	})
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) format() audio.Format {
	return audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: 1}
}

// initAudio starts the capture and playback programs unless injected.
func (a *App) initAudio() error {
	if a.source == nil {
		src, err := audio.NewCommandSource(audio.CommandConfig{
			Command:       a.cfg.Audio.Capture.Command,
			Args:          a.cfg.Audio.Capture.Args,
			Format:        a.format(),
			FrameDuration: a.cfg.Audio.FrameDuration,
		}, audio.WithLogger(slog.Default().With("component", "capture")))
		if err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
		a.source = src
		a.closers = append(a.closers, src.Close)
	}
	if a.sink == nil {
		sink, err := audio.NewCommandSink(audio.CommandConfig{
			Command: a.cfg.Audio.Playback.Command,
			Args:    a.cfg.Audio.Playback.Args,
			Format:  a.format(),
		}, audio.WithLogger(slog.Default().With("component", "playback")))
		if err != nil {
			return fmt.Errorf("start playback: %w", err)
		}
		a.sink = sink
		a.closers = append(a.closers, sink.Close)
	}
	return nil
}

// initRecipes connects the configured recipe backends unless injected.
func (a *App) initRecipes(ctx context.Context) error {
	rc := a.cfg.Recipe
	if a.store == nil && rc.PostgresDSN != "" {
		pool, store, err := recipe.OpenPool(ctx, rc.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		slog.Info("recipe store connected", "backend", "postgres")
	}
	if a.notion == nil && rc.Notion.Token != "" {
		var nopts []recipe.NotionOption
		if rc.Notion.BaseURL != "" {
			nopts = append(nopts, recipe.WithNotionBaseURL(rc.Notion.BaseURL))
		}
		c, err := recipe.NewNotionClient(rc.Notion.Token, rc.Notion.DatabaseID, nopts...)
		if err != nil {
			return err
		}
		a.notion = c
	}

	var lopts []recipe.LoaderOption
	if a.store != nil {
		lopts = append(lopts, recipe.WithStore(a.store))
	}
	if a.notion != nil {
		lopts = append(lopts, recipe.WithNotion(a.notion))
	}
	a.recipes = recipe.NewLoader(lopts...)
	return nil
}

// initSession builds the pipeline stages and the orchestrator.
func (a *App) initSession() error {
	cfg := a.cfg
	log := slog.Default()

	wakeCfg := wake.Config{
		Phrases:    cfg.Wake.Phrases,
		SampleRate: cfg.Audio.SampleRate,
	}
	if cfg.Wake.Sensitivity != nil {
		wakeCfg.Sensitivity = *cfg.Wake.Sensitivity
	}
	openGate := func() (session.Gate, error) {
		return listen.OpenGate(a.source, a.providers.Wake, wakeCfg, listen.WithLogger(log.With("component", "wake")))
	}

	aggr := config.DefaultAggressive
	if cfg.Audio.VADAggressiveness != nil {
		aggr = *cfg.Audio.VADAggressiveness
	}
	speechTh, silenceTh := vad.ThresholdsForAggressiveness(aggr)
	rec, err := listen.NewRecorder(a.source, a.providers.VAD, vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameSizeMs:      int(cfg.Audio.FrameDuration / time.Millisecond),
		SpeechThreshold:  speechTh,
		SilenceThreshold: silenceTh,
	}, listen.WithPreRoll(cfg.Audio.PreRoll), listen.WithLogger(log.With("component", "recorder")))
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}

	tr, err := transcribe.New(a.providers.STT,
		transcribe.WithProviderName(cfg.Providers.STT.Name),
		transcribe.WithMetrics(a.metrics),
		transcribe.WithLogger(log.With("component", "transcribe")),
	)
	if err != nil {
		return fmt.Errorf("create transcriber: %w", err)
	}

	gen, err := generate.New(a.providers.LLM,
		generate.WithProviderName(cfg.Providers.LLM.Name),
		generate.WithMetrics(a.metrics),
		generate.WithLogger(log.With("component", "generate")),
	)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}

	synth, err := a.buildSpeaker(cfg.Speech)
	if err != nil {
		return fmt.Errorf("create synthesizer: %w", err)
	}
	a.speaker = NewSwitchSpeaker(synth)

	profiles, err := cfg.Generation.ProfileTable()
	if err != nil {
		return fmt.Errorf("generation profiles: %w", err)
	}

	a.orch, err = session.New(session.Deps{
		OpenGate:    openGate,
		Recorder:    rec,
		Transcriber: tr,
		Generator:   gen,
		Speaker:     a.speaker,
	},
		session.WithTimings(session.Timings{
			MaxDuration:  cfg.Session.MaxDuration,
			MaxSilence:   cfg.Session.MaxSilence,
			CallTimeout:  cfg.Session.CallTimeout,
			RetryBackoff: cfg.Session.RetryBackoff,
		}),
		session.WithProfiles(profiles),
		session.WithHistoryBudget(cfg.Session.HistoryTokens),
		session.WithMetrics(a.metrics),
		session.WithLogger(log.With("component", "session")),
	)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	return nil
}

// initHTTP assembles the control routes, health probes and /metrics.
func (a *App) initHTTP() {
	var copts []control.Option
	if d, err := defaultsFromConfig(a.cfg); err == nil {
		copts = append(copts, control.WithDefaults(d))
	} else {
		slog.Warn("invalid session defaults, using built-in defaults", "err", err)
	}
	if a.store != nil {
		copts = append(copts, control.WithRecipeStore(a.store))
	}
	copts = append(copts,
		control.WithMetrics(a.metrics),
		control.WithLogger(slog.Default().With("component", "control")),
	)
	a.control = control.New(a.orch, a.recipes, copts...)

	checkers := []health.Checker{health.Session(a.orch.Snapshot), breakerChecker(a.providers.Breakers)}
	if p, ok := a.store.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("recipes", p))
	}
	a.health = health.New(checkers...)

	a.mux = http.NewServeMux()
	a.mux.Handle("/v1/", a.control.Handler())
	a.health.Register(a.mux)
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	a.mux.Handle("GET /metrics", a.metricsHandler)
}

// breakerChecker fails when every breaker of some provider kind is open, that
// is when a stage has no backend left to try.
func breakerChecker(breakers []*resilience.CircuitBreaker) health.Checker {
	return health.Checker{Name: "providers", Check: func(context.Context) error {
		kinds := make(map[string]bool) // kind → some breaker closed
		var order []string
		for _, cb := range breakers {
			kind, _, _ := strings.Cut(cb.Name(), "/")
			if _, seen := kinds[kind]; !seen {
				order = append(order, kind)
			}
			kinds[kind] = kinds[kind] || cb.State() != resilience.StateOpen
		}
		var errs []error
		for _, k := range order {
			if !kinds[k] {
				errs = append(errs, fmt.Errorf("all %s backends are unavailable", k))
			}
		}
		return errors.Join(errs...)
	}}
}

// buildSpeaker creates a synthesizer for the given speech settings.
func (a *App) buildSpeaker(sc config.SpeechConfig) (*speech.Synthesizer, error) {
	return newSynthesizer(a.providers.TTS, a.sink, a.cfg.Providers.TTS.Name, a.cfg.Session.CallTimeout, sc, a.metrics)
}

// defaultsFromConfig converts the session and recipe sections into start
// defaults.
func defaultsFromConfig(cfg *config.Config) (control.Defaults, error) {
	mode, err := generate.ParseMode(cfg.Session.Mode)
	if err != nil {
		return control.Defaults{}, err
	}
	d := control.Defaults{
		Mode:       mode,
		Streaming:  cfg.Session.Streaming,
		UseHistory: cfg.Session.UseHistory == nil || *cfg.Session.UseHistory,
		Recipe: recipe.Selector{
			Source: recipe.Source(cfg.Recipe.Source),
			Path:   cfg.Recipe.Path,
			Text:   cfg.Recipe.Text,
			ID:     cfg.Recipe.ID,
		},
	}
	return d, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the control routes, /healthz,
// /readyz and /metrics.
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.mux, "heychef")
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Snapshot returns the current session snapshot.
func (a *App) Snapshot() session.Snapshot { return a.orch.Snapshot() }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (when server.listen_addr is set), starts a session when
// session.autostart is set, and blocks until ctx is cancelled. The running
// session is stopped before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("control server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve %s: %w", addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.cfg.Session.AutoStart {
		if err := a.sessions.Autostart(gctx); err != nil {
			slog.Error("autostart failed", "err", err)
		}
	}

	slog.Info("app running", "autostart", a.cfg.Session.AutoStart, "listen_addr", a.cfg.Server.ListenAddr)
	<-gctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.sessions.Stop(sctx); err != nil {
		slog.Warn("session did not stop in time", "err", err)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session and closes all subsystems in reverse order.
// Safe to call more than once; only the first call has effect.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		if a.sessions != nil {
			if err := a.sessions.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop session: %w", err))
			}
		}
		errs = append(errs, a.closeAll())
	})
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
