package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CommandConfig describes an external capture or playback program that
// exchanges raw PCM16 with this process over stdin/stdout, for example
// arecord/aplay on Linux or sox on macOS.
//
// Args may contain the placeholders {rate} and {channels}, which are replaced
// with the stream format before the program is started.
type CommandConfig struct {
	Command string
	Args    []string
	Format  Format

	// FrameDuration is the size of the frames returned by a source.
	// Default: 30ms.
	FrameDuration time.Duration
}

func (c CommandConfig) expandArgs(f Format) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(f.SampleRate),
		"{channels}", strconv.Itoa(f.Channels),
	)
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// CommandOption configures a [CommandSource] or [CommandSink].
type CommandOption func(*commandOptions)

type commandOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for process lifecycle messages.
func WithLogger(l *slog.Logger) CommandOption {
	return func(o *commandOptions) { o.logger = l }
}

func applyCommandOptions(opts []CommandOption) commandOptions {
	o := commandOptions{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ---- source ----

// CommandSource reads fixed-size frames from the stdout of a long-running
// capture program.
type CommandSource struct {
	cfg        CommandConfig
	frameBytes int
	logger     *slog.Logger

	cmd    *exec.Cmd
	stdout *bufio.Reader

	mu     sync.Mutex
	closed bool
	read   int64
}

// Compile-time interface assertion.
var _ Source = (*CommandSource)(nil)

// NewCommandSource starts the capture program described by cfg.
func NewCommandSource(cfg CommandConfig, opts ...CommandOption) (*CommandSource, error) {
	if cfg.Command == "" {
		return nil, errors.New("audio: capture command must not be empty")
	}
	if cfg.Format.SampleRate <= 0 || cfg.Format.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid capture format %s", formatString(cfg.Format.SampleRate, cfg.Format.Channels))
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 30 * time.Millisecond
	}
	o := applyCommandOptions(opts)

	cmd := exec.Command(cfg.Command, cfg.expandArgs(cfg.Format)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start capture %q: %w", cfg.Command, err)
	}
	o.logger.Info("audio capture started",
		"command", cfg.Command,
		"format", formatString(cfg.Format.SampleRate, cfg.Format.Channels),
		"frame", cfg.FrameDuration,
	)

	return &CommandSource{
		cfg:        cfg,
		frameBytes: cfg.Format.FrameBytes(cfg.FrameDuration),
		logger:     o.logger,
		cmd:        cmd,
		stdout:     bufio.NewReaderSize(stdout, cfg.Format.FrameBytes(cfg.FrameDuration)*4),
	}, nil
}

// ReadFrame blocks until one full frame has been captured. It checks ctx
// before reading, so callers polling once per frame see cancellation within
// one frame interval.
func (s *CommandSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Frame{}, io.EOF
	}

	buf := make([]byte, s.frameBytes)
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("audio: read frame: %w", err)
	}

	ts := time.Duration(s.read) * s.cfg.FrameDuration
	s.read++
	return Frame{
		Data:       buf,
		SampleRate: s.cfg.Format.SampleRate,
		Channels:   s.cfg.Format.Channels,
		Timestamp:  ts,
	}, nil
}

// Close stops the capture program. It is safe to call more than once.
func (s *CommandSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
	s.logger.Info("audio capture stopped", "command", s.cfg.Command, "frames", s.read)
	return nil
}

// ---- sink ----

// CommandSink plays each frame by running the playback program once and
// writing the PCM to its stdin. Play returns when the program exits, which
// for aplay-style players is when playback has finished.
type CommandSink struct {
	cfg    CommandConfig
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ Sink = (*CommandSink)(nil)

// NewCommandSink validates cfg and returns a sink. No process is started
// until the first call to Play.
func NewCommandSink(cfg CommandConfig, opts ...CommandOption) (*CommandSink, error) {
	if cfg.Command == "" {
		return nil, errors.New("audio: playback command must not be empty")
	}
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("audio: playback command %q: %w", cfg.Command, err)
	}
	o := applyCommandOptions(opts)
	return &CommandSink{cfg: cfg, logger: o.logger}, nil
}

// Play blocks until frame has been played or ctx is cancelled.
func (s *CommandSink) Play(ctx context.Context, frame Frame) error {
	if len(frame.Data) == 0 {
		return nil
	}
	f := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.expandArgs(f)...)
	cmd.Stdin = bytes.NewReader(frame.Data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: play via %q: %w: %s", s.cfg.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Close is a no-op; each Play owns its own process.
func (s *CommandSink) Close() error { return nil }
