// Package mock provides a test double for wake.Engine.
//
//	eng := &mock.Engine{TriggerAt: 3} // detects phrase 0 on the 4th frame
package mock

import (
	"sync"

	"github.com/MrWong99/heychef/pkg/provider/wake"
)

// Engine is a mock implementation of wake.Engine.
type Engine struct {
	mu sync.Mutex

	// TriggerAt is the zero-based frame number (counted since the last
	// Reset) on which Index is reported. Negative never triggers.
	TriggerAt int

	// Index is returned on the trigger frame.
	Index int

	// Err, if non-nil, is returned by every Process call.
	Err error

	frames  int
	total   int
	resets  int
	closed  bool
	configs []wake.Config
}

var (
	_ wake.Engine   = (*Engine)(nil)
	_ wake.Resetter = (*Engine)(nil)
)

// Process counts the frame and reports Index on the trigger frame.
func (e *Engine) Process([]byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.frames
	e.frames++
	e.total++
	if e.Err != nil {
		return wake.NoDetection, e.Err
	}
	if e.TriggerAt >= 0 && n == e.TriggerAt {
		return e.Index, nil
	}
	return wake.NoDetection, nil
}

// Reset restarts the frame count.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.frames = 0
	e.resets++
	e.mu.Unlock()
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Frames returns the number of frames processed in total.
func (e *Engine) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// Resets returns the number of Reset calls.
func (e *Engine) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Factory returns a wake.Factory that hands out eng, or err when non-nil.
// The configs passed to the factory are recorded on eng.
func Factory(eng *Engine, err error) wake.Factory {
	return func(cfg wake.Config) (wake.Engine, error) {
		eng.mu.Lock()
		eng.configs = append(eng.configs, cfg)
		eng.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return eng, nil
	}
}

// Configs returns every Config passed through Factory.
func (e *Engine) Configs() []wake.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]wake.Config(nil), e.configs...)
}
