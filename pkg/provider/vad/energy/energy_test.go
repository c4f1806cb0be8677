package energy

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/heychef/pkg/provider/vad"
)

// constFrame returns n samples of the given amplitude; its RMS equals |amp|.
func constFrame(n int, amp int16) []byte {
	b := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(amp))
	}
	return b
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	s, err := New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero rate", vad.Config{SpeechThreshold: 0.5, SilenceThreshold: 0.3}},
		{"zero speech threshold", vad.Config{SampleRate: 16000}},
		{"speech threshold above one", vad.Config{SampleRate: 16000, SpeechThreshold: 1.5}},
		{"silence above speech", vad.Config{SampleRate: 16000, SpeechThreshold: 0.3, SilenceThreshold: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New().NewSession(tt.cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestProcessFrame_Hysteresis(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, FrameSizeMs: 10, SpeechThreshold: 0.5, SilenceThreshold: 0.2})

	steps := []struct {
		amp  int16
		want vad.VADEventType
	}{
		{0, vad.VADSilence},
		{1200, vad.VADSilence},         // 0.4 < speech threshold
		{2400, vad.VADSpeechStart},     // 0.8
		{1200, vad.VADSpeechContinue},  // 0.4 still above silence threshold
		{300, vad.VADSpeechEnd},        // 0.1
		{300, vad.VADSilence},
		{32000, vad.VADSpeechStart},
	}
	for i, st := range steps {
		ev, err := s.ProcessFrame(constFrame(160, st.amp))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if ev.Type != st.want {
			t.Errorf("step %d (amp %d): got %v, want %v", i, st.amp, ev.Type, st.want)
		}
	}
}

func TestProcessFrame_ProbabilityClamped(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, SpeechThreshold: 0.5})
	ev, _ := s.ProcessFrame(constFrame(10, 32000))
	if ev.Probability != 1 {
		t.Errorf("Probability = %v, want 1", ev.Probability)
	}
}

func TestProcessFrame_WrongSize(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, FrameSizeMs: 30, SpeechThreshold: 0.5})
	if _, err := s.ProcessFrame(make([]byte, 100)); err == nil {
		t.Error("expected error for wrong frame size")
	}
	if _, err := s.ProcessFrame(make([]byte, 960)); err != nil {
		t.Errorf("960-byte frame: %v", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, SpeechThreshold: 0.5, SilenceThreshold: 0.1})
	_, _ = s.ProcessFrame(constFrame(10, 3000))
	s.Reset()
	ev, _ := s.ProcessFrame(constFrame(10, 1000))
	if ev.Type != vad.VADSilence {
		t.Errorf("after Reset got %v, want silence", ev.Type)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	s := newSession(t, vad.Config{SampleRate: 16000, SpeechThreshold: 0.5})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(constFrame(10, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestThresholdsForAggressiveness(t *testing.T) {
	t.Parallel()
	prev := 0.0
	for level := 0; level <= 3; level++ {
		speech, silence := vad.ThresholdsForAggressiveness(level)
		if speech <= prev {
			t.Errorf("level %d: speech threshold %v not increasing", level, speech)
		}
		if silence >= speech {
			t.Errorf("level %d: silence %v >= speech %v", level, silence, speech)
		}
		prev = speech
	}
	if s, _ := vad.ThresholdsForAggressiveness(9); s != 0.7 {
		t.Errorf("clamped level speech = %v, want 0.7", s)
	}
}
