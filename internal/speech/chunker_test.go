package speech

import (
	"reflect"
	"strings"
	"testing"
)

func pushAll(c *Chunker, deltas []string) []string {
	var out []string
	for _, d := range deltas {
		out = append(out, c.Push(d)...)
	}
	if rest := c.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}

func TestChunker_SentenceBoundary(t *testing.T) {
	t.Parallel()
	c := NewChunker(ChunkerConfig{Boundaries: []string{"."}})
	got := pushAll(c, []string{"The chi", "cken is ", "done.", " Rest it."})
	want := []string{"The chicken is done.", " Rest it."}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chunks = %q, want %q", got, want)
	}
}

func TestChunker_Cases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    ChunkerConfig
		deltas []string
		want   []string
	}{
		{
			name:   "default boundaries keep decimals",
			cfg:    ChunkerConfig{},
			deltas: []string{"Use 2.5 cups. ", "Then stir! Done"},
			want:   []string{"Use 2.5 cups. ", "Then stir! ", "Done"},
		},
		{
			name:   "min chars merges short sentences",
			cfg:    ChunkerConfig{Boundaries: []string{". "}, MinChars: 12},
			deltas: []string{"Yes. It is. Bake it now. Ok"},
			want:   []string{"Yes. It is. ", "Bake it now. ", "Ok"},
		},
		{
			name:   "max chars splits at clause break",
			cfg:    ChunkerConfig{Boundaries: []string{". "}, MaxChars: 20},
			deltas: []string{"Whisk the eggs, add sugar and keep going"},
			want:   []string{"Whisk the eggs, ", "add sugar and keep ", "going"},
		},
		{
			name:   "max chars without whitespace",
			cfg:    ChunkerConfig{Boundaries: []string{". "}, MaxChars: 4},
			deltas: []string{"abcdefghij"},
			want:   []string{"abcd", "efgh", "ij"},
		},
		{
			name:   "several sentences in one delta",
			cfg:    ChunkerConfig{Boundaries: []string{"."}},
			deltas: []string{"A.B.C"},
			want:   []string{"A.", "B.", "C"},
		},
		{
			name:   "earliest boundary wins",
			cfg:    ChunkerConfig{Boundaries: []string{"?", "!"}},
			deltas: []string{"Really! Why?"},
			want:   []string{"Really!", " Why?"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := pushAll(NewChunker(tc.cfg), tc.deltas)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("chunks = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChunker_ConcatenationPreserved(t *testing.T) {
	t.Parallel()
	text := "Preheat the oven to 180 °C. Season the chicken, then roast it for 75 minutes! " +
		"Is it done? Check that the juices run clear; rest it for 10 minutes.\nServe."
	configs := []ChunkerConfig{
		{},
		{Boundaries: []string{"."}},
		{MinChars: 30},
		{MaxChars: 16},
		{Boundaries: []string{", "}, MinChars: 5, MaxChars: 25},
	}
	for _, cfg := range configs {
		for size := 1; size <= 13; size += 3 {
			var deltas []string
			for i := 0; i < len(text); i += size {
				deltas = append(deltas, text[i:min(i+size, len(text))])
			}
			chunks := pushAll(NewChunker(cfg), deltas)
			if got := strings.Join(chunks, ""); got != text {
				t.Fatalf("cfg %+v size %d: concatenation = %q", cfg, size, got)
			}
			for _, ch := range chunks {
				if ch == "" {
					t.Fatalf("cfg %+v size %d: empty chunk", cfg, size)
				}
			}
		}
	}
}
