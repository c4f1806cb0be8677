package listen

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/heychef/pkg/audio"
	"github.com/MrWong99/heychef/pkg/provider/wake"
)

// Gate blocks until a trigger phrase is heard on an audio source.
//
// A Gate is used by one goroutine at a time. Close releases the engine.
type Gate struct {
	src    audio.Source
	engine wake.Engine
	cfg    wake.Config
	log    *slog.Logger
}

// OpenGate validates cfg and initialises the wake-word engine. Any error is
// an initialisation failure and should not be retried.
func OpenGate(src audio.Source, factory wake.Factory, cfg wake.Config, opts ...Option) (*Gate, error) {
	if src == nil {
		return nil, fmt.Errorf("listen: audio source is nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("listen: wake engine factory is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	eng, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("listen: init wake engine: %w", err)
	}
	o := applyOptions(opts)
	return &Gate{src: src, engine: eng, cfg: cfg, log: o.logger}, nil
}

// WaitForTrigger reads frames until the engine reports a trigger phrase and
// then returns nil. It returns ctx.Err() when ctx is cancelled and a wrapped
// error when the source fails. Engine errors on a single frame are logged
// and the frame is skipped.
func (g *Gate) WaitForTrigger(ctx context.Context) error {
	if r, ok := g.engine.(wake.Resetter); ok {
		r.Reset()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := g.src.ReadFrame(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("listen: read frame: %w", err)
		}
		idx, err := g.engine.Process(frame.Data)
		if err != nil {
			g.log.Warn("wake engine error", "err", err)
			continue
		}
		if idx >= 0 {
			phrase := ""
			if idx < len(g.cfg.Phrases) {
				phrase = g.cfg.Phrases[idx]
			}
			g.log.Debug("trigger phrase detected", "index", idx, "phrase", phrase, "at", frame.Timestamp)
			return nil
		}
	}
}

// Close releases the wake-word engine.
func (g *Gate) Close() error {
	return g.engine.Close()
}
