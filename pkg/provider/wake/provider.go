// Package wake defines the Engine interface for trigger-phrase detection.
//
// An engine receives every PCM16 frame captured while the session listens
// for its trigger and reports the index of the phrase it recognised, or -1.
// Process is called once per frame from the capture loop and must return
// promptly; engines that need slow work (for example a transcription call)
// do it in the background and report the hit on a later frame.
package wake

import (
	"errors"
	"fmt"
)

// NoDetection is returned by Process when no phrase was recognised.
const NoDetection = -1

// Engine detects trigger phrases in a stream of audio frames. Process is not
// safe for concurrent use; Close may be called from any goroutine.
type Engine interface {
	// Process consumes one mono PCM16 frame at Config.SampleRate and returns
	// the index into Config.Phrases of a detected phrase, or NoDetection.
	Process(frame []byte) (int, error)

	// Close releases the engine. Calling Close more than once returns nil.
	Close() error
}

// Resetter is implemented by engines that buffer audio between frames. The
// gate resets the engine each time it starts waiting, so audio from a
// previous turn cannot trigger a new one.
type Resetter interface {
	Reset()
}

// Config configures a wake-word engine.
type Config struct {
	// Phrases are the trigger phrases, e.g. "hey chef".
	Phrases []string

	// Sensitivity in [0,1]. Higher values trade false negatives for false
	// positives.
	Sensitivity float64

	// SampleRate of the frames passed to Process.
	SampleRate int
}

// Validate reports configuration errors that make engine initialisation
// impossible.
func (c Config) Validate() error {
	var errs []error
	if len(c.Phrases) == 0 {
		errs = append(errs, errors.New("wake: at least one trigger phrase is required"))
	}
	for i, p := range c.Phrases {
		if p == "" {
			errs = append(errs, fmt.Errorf("wake: phrase %d is empty", i))
		}
	}
	if c.Sensitivity < 0 || c.Sensitivity > 1 {
		errs = append(errs, fmt.Errorf("wake: sensitivity must be in [0,1], got %v", c.Sensitivity))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("wake: sample rate must be positive, got %d", c.SampleRate))
	}
	return errors.Join(errs...)
}

// Factory builds an Engine. Initialisation failures (missing model,
// missing credentials, invalid config) are returned here and are fatal for
// the session that asked for the engine.
type Factory func(cfg Config) (Engine, error)
