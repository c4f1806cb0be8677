package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 2 * time.Second

// ReloadFunc receives the previous and the freshly loaded configuration.
// It runs on the watcher goroutine; a slow ReloadFunc delays the next poll.
type ReloadFunc func(old, new *Config)

// Watcher owns the configuration file of a running process. It loads the
// file once on construction and, while [Watcher.Run] is active, polls it and
// hands every valid change to a [ReloadFunc]. Invalid edits are logged and
// ignored; the last valid configuration stays current.
//
// Overrides registered with [WithOverrides] are applied to every loaded
// configuration, so command line flags survive reloads.
type Watcher struct {
	path      string
	interval  time.Duration
	overrides []func(*Config)
	log       *slog.Logger

	mu       sync.Mutex
	current  *Config
	seen     fileStamp
	rejected [sha256.Size]byte
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOverrides registers functions that adjust every loaded configuration
// before it is validated.
func WithOverrides(fns ...func(*Config)) WatcherOption {
	return func(w *Watcher) { w.overrides = append(w.overrides, fns...) }
}

// WithWatchLogger sets the logger used for reload messages.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads the configuration at path. It does not start polling;
// call [Watcher.Run] for that.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current = cfg
	w.seen = stamp
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Current returns the most recently loaded valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled and calls reload for every valid
// change. It always returns ctx.Err().
func (w *Watcher) Run(ctx context.Context, reload ReloadFunc) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if old, cfg, ok := w.Check(); ok && reload != nil {
				reload(old, cfg)
			}
		}
	}
}

// Check polls the file once. It reports the old and new configuration and
// true when a new valid version was loaded.
func (w *Watcher) Check() (old, cfg *Config, changed bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger().Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return nil, nil, false
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger().Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return nil, nil, false
	}
	sum := sha256.Sum256(data)
	stamp := fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sum}

	w.mu.Lock()
	if sum == w.seen.sum {
		// Touched, not edited.
		w.seen = stamp
		w.mu.Unlock()
		return nil, nil, false
	}
	if sum == w.rejected {
		w.mu.Unlock()
		return nil, nil, false
	}
	w.mu.Unlock()

	next, err := w.parse(data)
	if err != nil {
		w.mu.Lock()
		w.rejected = sum
		w.mu.Unlock()
		w.logger().Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	old = w.current
	w.current = next
	w.seen = stamp
	w.mu.Unlock()

	w.logger().Info("config watcher: configuration reloaded", "path", w.path)
	return old, next, true
}

// logger resolves the default logger late so that a watcher created before
// slog.SetDefault still logs through the configured handler.
func (w *Watcher) logger() *slog.Logger {
	if w.log != nil {
		return w.log
	}
	return slog.Default()
}

func (w *Watcher) load() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, fmt.Errorf("config: open %q: %w", w.path, err)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, fmt.Errorf("config: read %q: %w", w.path, err)
	}
	cfg, err := w.parse(data)
	if err != nil {
		return nil, fileStamp{}, fmt.Errorf("config: parse %q: %w", w.path, err)
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}

// parse decodes data and applies the overrides. Validation runs again after
// the overrides since they may set fields the file left empty.
func (w *Watcher) parse(data []byte) (*Config, error) {
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, err
	}
	if len(w.overrides) == 0 {
		return cfg, nil
	}
	for _, fn := range w.overrides {
		fn(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
