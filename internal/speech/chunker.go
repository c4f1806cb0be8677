package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultBoundaries end a playback chunk. The trailing space keeps decimals
// such as "2.5 cups" in one piece.
var DefaultBoundaries = []string{". ", "! ", "? ", "\n"}

// clauseBreaks are preferred split points when a chunk grows past MaxChars.
var clauseBreaks = []string{", ", "; ", ": "}

// ChunkerConfig controls how streamed text is cut into playback chunks.
type ChunkerConfig struct {
	// Boundaries end a chunk, which includes the boundary itself.
	// Default: [DefaultBoundaries].
	Boundaries []string

	// MinChars is the minimum chunk length in bytes before a boundary may end
	// it. Zero disables the minimum.
	MinChars int

	// MaxChars forces a split once the buffer grows beyond it, at the last
	// clause break or whitespace. Zero disables the limit.
	MaxChars int
}

// Chunker re-cuts a stream of text deltas into sentence-sized chunks. The
// concatenation of everything returned by Push and Flush always equals the
// concatenation of the pushed deltas.
//
// A Chunker is not safe for concurrent use.
type Chunker struct {
	cfg ChunkerConfig
	buf strings.Builder
}

// NewChunker returns a Chunker for cfg.
func NewChunker(cfg ChunkerConfig) *Chunker {
	if len(cfg.Boundaries) == 0 {
		cfg.Boundaries = DefaultBoundaries
	}
	return &Chunker{cfg: cfg}
}

// Push appends delta and returns the chunks that are complete.
func (c *Chunker) Push(delta string) []string {
	c.buf.WriteString(delta)
	var out []string
	for {
		s := c.buf.String()
		end := c.boundaryEnd(s)
		if end < 0 && c.cfg.MaxChars > 0 && len(s) > c.cfg.MaxChars {
			end = forcedSplit(s, c.cfg.MaxChars)
		}
		if end <= 0 {
			return out
		}
		out = append(out, s[:end])
		c.buf.Reset()
		c.buf.WriteString(s[end:])
	}
}

// Flush returns and clears whatever text is buffered.
func (c *Chunker) Flush() string {
	s := c.buf.String()
	c.buf.Reset()
	return s
}

// boundaryEnd returns the end offset of the earliest boundary whose chunk is
// at least MinChars long, or -1.
func (c *Chunker) boundaryEnd(s string) int {
	best := -1
	for _, b := range c.cfg.Boundaries {
		if b == "" {
			continue
		}
		from := 0
		for {
			i := strings.Index(s[from:], b)
			if i < 0 {
				break
			}
			end := from + i + len(b)
			if end >= c.cfg.MinChars {
				if best < 0 || end < best {
					best = end
				}
				break
			}
			from += i + 1
		}
	}
	return best
}

// forcedSplit picks a split offset within the first limit bytes of s.
func forcedSplit(s string, limit int) int {
	head := s[:limit]
	for _, b := range clauseBreaks {
		if i := strings.LastIndex(head, b); i > 0 {
			return i + len(b)
		}
	}
	if i := strings.LastIndexFunc(head, unicode.IsSpace); i > 0 {
		_, size := utf8.DecodeRuneInString(head[i:])
		return i + size
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return limit
}
