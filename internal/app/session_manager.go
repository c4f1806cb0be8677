package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/heychef/internal/config"
	"github.com/MrWong99/heychef/internal/control"
	"github.com/MrWong99/heychef/internal/generate"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/internal/session"
	"github.com/MrWong99/heychef/internal/speech"
	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/tts"
)

// SwitchSpeaker is a [session.Speaker] whose synthesizer can be replaced
// while a session runs. A replacement takes effect with the next answer; an
// answer being spoken finishes with the old settings.
type SwitchSpeaker struct {
	cur atomic.Pointer[speech.Synthesizer]
}

var _ session.Speaker = (*SwitchSpeaker)(nil)

// NewSwitchSpeaker returns a SwitchSpeaker using s.
func NewSwitchSpeaker(s *speech.Synthesizer) *SwitchSpeaker {
	sp := &SwitchSpeaker{}
	sp.cur.Store(s)
	return sp
}

// Swap installs s.
func (sp *SwitchSpeaker) Swap(s *speech.Synthesizer) { sp.cur.Store(s) }

// Speak plays text with the current synthesizer.
func (sp *SwitchSpeaker) Speak(ctx context.Context, text string) error {
	return sp.cur.Load().Speak(ctx, text)
}

// SpeakStream plays a streamed answer with the current synthesizer.
func (sp *SwitchSpeaker) SpeakStream(ctx context.Context, chunks <-chan generate.Chunk) (string, error) {
	return sp.cur.Load().SpeakStream(ctx, chunks)
}

// newSynthesizer creates a synthesizer for the speech section of the config.
func newSynthesizer(p tts.Provider, sink audio.Sink, providerName string, callTimeout time.Duration, sc config.SpeechConfig, m *observe.Metrics) (*speech.Synthesizer, error) {
	opts := []speech.Option{
		speech.WithVoice(tts.Voice{ID: sc.Voice, Provider: providerName}),
		speech.WithChunking(speech.ChunkerConfig{
			Boundaries: sc.Boundaries,
			MinChars:   sc.MinChars,
			MaxChars:   sc.MaxChars,
		}),
		speech.WithPrefetch(sc.Prefetch),
		speech.WithProviderName(providerName),
		speech.WithChunkObserver(func(c speech.PlaybackChunk) {
			slog.Debug("playback chunk", "seq", c.Seq, "chars", len(c.Text))
		}),
		speech.WithLogger(slog.Default().With("component", "speech")),
	}
	if callTimeout > 0 {
		opts = append(opts, speech.WithCallTimeout(callTimeout))
	}
	if m != nil {
		opts = append(opts, speech.WithMetrics(m))
	}
	return speech.New(p, sink, opts...)
}

// ProfileSetter replaces the generation profiles of a running orchestrator.
type ProfileSetter interface {
	SetProfiles(t generate.ProfileTable) error
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Config is the config the process started with.
	Config *config.Config

	Session  control.Session
	Profiles ProfileSetter
	Control  *control.Server

	// Speaker and BuildSpeaker apply speech changes. Both may be nil, in
	// which case speech changes are logged and ignored.
	Speaker      *SwitchSpeaker
	BuildSpeaker func(config.SpeechConfig) (*speech.Synthesizer, error)

	// LogLevel, when set, is updated on log level changes.
	LogLevel *slog.LevelVar
}

// SessionManager starts, stops and reconfigures the voice session on behalf
// of the process: the autostart at boot, the shutdown path and config
// reloads. Requests from the control surface go to the orchestrator
// directly. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu  sync.Mutex
	cfg *config.Config

	sess         control.Session
	profiles     ProfileSetter
	control      *control.Server
	speaker      *SwitchSpeaker
	buildSpeaker func(config.SpeechConfig) (*speech.Synthesizer, error)
	logLevel     *slog.LevelVar
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		cfg:          cfg.Config,
		sess:         cfg.Session,
		profiles:     cfg.Profiles,
		control:      cfg.Control,
		speaker:      cfg.Speaker,
		buildSpeaker: cfg.BuildSpeaker,
		logLevel:     cfg.LogLevel,
	}
}

// Autostart starts a session with the configured defaults. A session that is
// already running is not an error.
func (sm *SessionManager) Autostart(ctx context.Context) error {
	cfg, err := sm.control.StartConfig(ctx, control.StartRequest{})
	if err != nil {
		return fmt.Errorf("app: autostart: %w", err)
	}
	if err := sm.sess.Start(ctx, cfg); err != nil {
		if errors.Is(err, session.ErrRunning) {
			return nil
		}
		return fmt.Errorf("app: autostart: %w", err)
	}
	snap := sm.sess.Snapshot()
	slog.Info("session autostarted", "session_id", snap.SessionID, "mode", cfg.Mode, "streaming", cfg.Streaming)
	return nil
}

// Stop requests the running session to stop and waits until it has, or until
// ctx is done. Stopping an idle manager is a no-op.
func (sm *SessionManager) Stop(ctx context.Context) error {
	if !sm.sess.Snapshot().Running {
		return nil
	}
	sm.sess.RequestStop()
	return sm.sess.Wait(ctx)
}

// Config returns the config currently in effect.
func (sm *SessionManager) Config() *config.Config {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cfg
}

// Reload applies the hot-reloadable parts of newCfg. It is the callback of
// the config watcher. Changes that need a restart are logged. Errors in one
// section do not prevent the others from being applied.
func (sm *SessionManager) Reload(oldCfg, newCfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	d := config.Diff(oldCfg, newCfg)

	if d.LogLevelChanged && sm.logLevel != nil {
		sm.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.ProfilesChanged && sm.profiles != nil {
		t, err := newCfg.Generation.ProfileTable()
		if err == nil {
			err = sm.profiles.SetProfiles(t)
		}
		if err != nil {
			slog.Error("config reload: profiles not applied", "err", err)
		} else {
			slog.Info("config reload: profiles updated", "modes", strings.Join(d.ChangedModes, ","))
		}
	}

	if d.SpeechChanged {
		switch {
		case sm.speaker == nil || sm.buildSpeaker == nil:
			slog.Warn("config reload: speech changes need a restart")
		default:
			s, err := sm.buildSpeaker(newCfg.Speech)
			if err != nil {
				slog.Error("config reload: speech not applied", "err", err)
			} else {
				sm.speaker.Swap(s)
				slog.Info("config reload: speech settings updated", "voice", newCfg.Speech.Voice)
			}
		}
	}

	if d.DefaultsChanged && sm.control != nil {
		defs, err := defaultsFromConfig(newCfg)
		if err != nil {
			slog.Error("config reload: session defaults not applied", "err", err)
		} else {
			sm.control.SetDefaults(defs)
			slog.Info("config reload: session defaults updated", "mode", defs.Mode, "streaming", defs.Streaming, "recipe_source", defs.Recipe.Source)
		}
	}

	for _, section := range d.RestartRequired {
		slog.Warn("config reload: change requires restart", "section", section)
	}

	sm.cfg = newCfg
}

// SlogLevel converts a config log level to a slog level. Unknown levels map
// to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
