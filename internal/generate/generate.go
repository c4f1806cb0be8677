// Package generate produces answers to recipe questions with a language
// model, either as one string or as an ordered stream of text deltas.
//
// The [Profile] passed in each [Request] is the only thing that differs
// between personality modes.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/pkg/provider/llm"
)

// ErrServiceFailure wraps language-model errors, including streams that end
// without a final chunk.
var ErrServiceFailure = errors.New("generate: service failure")

// Chunk is one element of an answer stream.
type Chunk struct {
	// Seq starts at 0 and increases by one per chunk.
	Seq int

	// Text is the delta. May be empty on the final chunk.
	Text string

	// IsFinal marks the normal end of the stream. Exactly one chunk of a
	// well-formed stream has it set.
	IsFinal bool

	// Err is set on a terminal chunk when the stream failed. It wraps
	// [ErrServiceFailure].
	Err error
}

// Generator wraps an [llm.Provider].
type Generator struct {
	provider llm.Provider
	name     string
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option configures a [Generator].
type Option func(*Generator)

// WithProviderName labels provider metrics. Default: "llm".
func WithProviderName(name string) Option {
	return func(g *Generator) { g.name = name }
}

// WithMetrics records provider latency and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// New returns a Generator using p.
func New(p llm.Provider, opts ...Option) (*Generator, error) {
	if p == nil {
		return nil, errors.New("generate: provider is nil")
	}
	g := &Generator{provider: p, name: "llm", log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// completionRequest converts req, clamping the token budget to what the
// model can produce.
func (g *Generator) completionRequest(req Request) llm.CompletionRequest {
	maxTokens := req.Profile.MaxTokens
	if limit := g.provider.Capabilities().MaxOutputTokens; limit > 0 && maxTokens > limit {
		maxTokens = limit
	}
	return llm.CompletionRequest{
		Messages:    BuildMessages(req),
		Temperature: req.Profile.Temperature,
		MaxTokens:   maxTokens,
	}
}

func (g *Generator) record(ctx context.Context, start time.Time, err error) {
	if g.metrics != nil {
		g.metrics.RecordProviderCall(ctx, "llm", g.name, time.Since(start), err)
	}
}

// Generate returns the complete answer. An empty answer is reported as a
// service failure.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	resp, err := g.provider.Complete(ctx, g.completionRequest(req))
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errors.New("empty completion")
	}
	g.record(ctx, start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceFailure, err)
	}
	g.log.Debug("answer generated", "chars", len(resp.Content), "completion_tokens", resp.Usage.CompletionTokens)
	return strings.TrimSpace(resp.Content), nil
}

// GenerateStream opens a streaming completion. The returned channel delivers
// deltas in order and ends with either one IsFinal chunk or one chunk with
// Err set, and is then closed. When ctx is cancelled the channel is closed
// without a terminal chunk.
func (g *Generator) GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error) {
	start := time.Now()
	src, err := g.provider.StreamCompletion(ctx, g.completionRequest(req))
	if err != nil {
		g.record(ctx, start, err)
		return nil, fmt.Errorf("%w: %w", ErrServiceFailure, err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		seq := 0
		emit := func(c Chunk) bool {
			if ctx.Err() != nil {
				return false
			}
			c.Seq = seq
			select {
			case out <- c:
				seq++
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			var (
				c  llm.Chunk
				ok bool
			)
			select {
			case c, ok = <-src:
			case <-ctx.Done():
				return
			}
			if !ok {
				if ctx.Err() != nil {
					return
				}
				err := fmt.Errorf("%w: stream ended without a finish reason", ErrServiceFailure)
				g.record(ctx, start, err)
				emit(Chunk{Err: err})
				return
			}

			switch c.FinishReason {
			case "":
				if c.Text != "" && !emit(Chunk{Text: c.Text}) {
					return
				}
			case llm.FinishError:
				err := fmt.Errorf("%w: %s", ErrServiceFailure, c.Text)
				g.record(ctx, start, err)
				emit(Chunk{Err: err})
				return
			default:
				if c.FinishReason == llm.FinishLength {
					g.log.Debug("answer truncated at token limit")
				}
				g.record(ctx, start, nil)
				emit(Chunk{Text: c.Text, IsFinal: true})
				return
			}
		}
	}()
	return out, nil
}
