package audio

import (
	"slices"
	"testing"
)

func TestCommandConfig_ExpandArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		format Format
		want   []string
	}{
		{
			name:   "arecord",
			args:   []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"},
			format: Format{SampleRate: 16000, Channels: 1},
			want:   []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "16000", "-c", "1"},
		},
		{
			name:   "sox inline placeholders",
			args:   []string{"-d", "--rate={rate}", "--channels={channels}", "-t", "raw", "-"},
			format: Format{SampleRate: 48000, Channels: 2},
			want:   []string{"-d", "--rate=48000", "--channels=2", "-t", "raw", "-"},
		},
		{
			name:   "no placeholders",
			args:   []string{"-q"},
			format: Format{SampleRate: 8000, Channels: 1},
			want:   []string{"-q"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := CommandConfig{Command: "rec", Args: tt.args, Format: tt.format}
			if got := cfg.expandArgs(tt.format); !slices.Equal(got, tt.want) {
				t.Errorf("expandArgs = %q, want %q", got, tt.want)
			}
			if !slices.Equal(cfg.Args, tt.args) {
				t.Errorf("configured args changed to %q", cfg.Args)
			}
		})
	}
}
