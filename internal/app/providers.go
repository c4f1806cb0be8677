package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/heychef/internal/config"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/internal/resilience"
	"github.com/MrWong99/heychef/pkg/provider/llm"
	"github.com/MrWong99/heychef/pkg/provider/stt"
	"github.com/MrWong99/heychef/pkg/provider/tts"
	"github.com/MrWong99/heychef/pkg/provider/vad"
	"github.com/MrWong99/heychef/pkg/provider/wake"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. LLM, STT and TTS are wrapped in circuit
// breakers with their configured fallbacks.
type Providers struct {
	LLM  llm.Provider
	STT  stt.Provider
	TTS  tts.Provider
	VAD  vad.Engine
	Wake wake.Factory

	// Breakers of every wrapped backend, for readiness reporting.
	Breakers []*resilience.CircuitBreaker
}

// Validate reports missing provider slots. Every slot is needed to run a
// session.
func (p *Providers) Validate() error {
	var errs []error
	if p.LLM == nil {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("providers.tts is required"))
	}
	if p.VAD == nil {
		errs = append(errs, errors.New("providers.vad is required"))
	}
	if p.Wake == nil {
		errs = append(errs, errors.New("providers.wake is required"))
	}
	return errors.Join(errs...)
}

// BuildProviders instantiates all providers named in cfg using the registry.
// Unregistered names are skipped with a debug log; construction errors are
// returned. m may be nil.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fcfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "state", to.String())
			if m != nil {
				m.RecordBreakerTransition(context.Background(), name, to.String())
			}
		},
	}}

	llmChain, err := buildChain("llm", cfg.Providers.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(llmChain) > 0 {
		f := resilience.NewLLMFallback(llmChain[0].p, llmChain[0].name, fcfg)
		for _, c := range llmChain[1:] {
			f.AddFallback(c.name, c.p)
		}
		ps.LLM = f
		ps.Breakers = append(ps.Breakers, f.Breakers()...)
	}

	sttChain, err := buildChain("stt", cfg.Providers.STT, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if len(sttChain) > 0 {
		f := resilience.NewSTTFallback(sttChain[0].p, sttChain[0].name, fcfg)
		for _, c := range sttChain[1:] {
			f.AddFallback(c.name, c.p)
		}
		ps.STT = f
		ps.Breakers = append(ps.Breakers, f.Breakers()...)
	}

	ttsChain, err := buildChain("tts", cfg.Providers.TTS, reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if len(ttsChain) > 0 {
		f := resilience.NewTTSFallback(ttsChain[0].p, ttsChain[0].name, fcfg)
		for _, c := range ttsChain[1:] {
			f.AddFallback(c.name, c.p)
		}
		ps.TTS = f
		ps.Breakers = append(ps.Breakers, f.Breakers()...)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			ps.VAD = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	// The wake engine listens through the already wrapped STT and the VAD.
	if name := cfg.Providers.Wake.Name; name != "" {
		f, err := reg.CreateWake(cfg.Providers.Wake, config.WakeDeps{STT: ps.STT, VAD: ps.VAD})
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", "wake", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create wake provider %q: %w", name, err)
		} else {
			ps.Wake = f
			slog.Info("provider created", "kind", "wake", "name", name)
		}
	}

	return ps, nil
}

type named[P any] struct {
	name string
	p    P
}

// buildChain creates the primary provider of entry followed by its
// fallbacks. Entries whose name is not registered are skipped. Breaker names
// are "kind/name", suffixed with the position for fallbacks.
func buildChain[P any](kind string, entry config.ProviderEntry, create func(config.ProviderEntry) (P, error)) ([]named[P], error) {
	if entry.Name == "" {
		return nil, nil
	}
	var out []named[P]
	for i, e := range append([]config.ProviderEntry{entry}, entry.Fallbacks...) {
		p, err := create(e)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered, skipping", "kind", kind, "name", e.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
		}
		label := kind + "/" + e.Name
		if i > 0 {
			label = fmt.Sprintf("%s#%d", label, i)
		}
		out = append(out, named[P]{name: label, p: p})
		slog.Info("provider created", "kind", kind, "name", e.Name, "fallback", i > 0)
	}
	return out, nil
}
