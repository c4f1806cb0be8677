package phonetic

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/heychef/pkg/provider/stt"
	sttmock "github.com/MrWong99/heychef/pkg/provider/stt/mock"
	"github.com/MrWong99/heychef/pkg/provider/vad/energy"
	"github.com/MrWong99/heychef/pkg/provider/wake"
)

// 30 ms at 16 kHz.
const frameSamples = 480

func loud() []byte {
	b := make([]byte, frameSamples*2)
	for i := range frameSamples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(3000)))
	}
	return b
}

func quiet() []byte { return make([]byte, frameSamples*2) }

var testCfg = wake.Config{Phrases: []string{"hey chef"}, Sensitivity: 0.7, SampleRate: 16000}

func newEngine(t *testing.T, p *sttmock.Provider) *Engine {
	t.Helper()
	e, err := New(testCfg, p, energy.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// feedUntil pushes quiet frames until Process reports a detection or the
// deadline passes.
func feedUntil(t *testing.T, e *Engine, d time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		idx, err := e.Process(quiet())
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if idx != wake.NoDetection {
			return idx
		}
		time.Sleep(5 * time.Millisecond)
	}
	return wake.NoDetection
}

func speak(t *testing.T, e *Engine, frames int) {
	t.Helper()
	for range frames {
		if _, err := e.Process(loud()); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{}
	if _, err := New(wake.Config{SampleRate: 16000, Sensitivity: 0.5}, p, energy.New()); err == nil {
		t.Error("expected error for missing phrases")
	}
	if _, err := New(wake.Config{Phrases: []string{"hey chef"}, SampleRate: 16000, Sensitivity: 1.5}, p, energy.New()); err == nil {
		t.Error("expected error for sensitivity out of range")
	}
	if _, err := New(testCfg, nil, energy.New()); err == nil {
		t.Error("expected error for nil stt provider")
	}
	if _, err := New(testCfg, p, nil); err == nil {
		t.Error("expected error for nil vad engine")
	}
}

func TestProcess_DetectsPhrase(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Text: "Hey, Chef!"}
	e := newEngine(t, p)

	speak(t, e, 10)
	if idx := feedUntil(t, e, 2*time.Second); idx != 0 {
		t.Fatalf("detection = %d, want 0", idx)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("transcriptions = %d, want 1", len(calls))
	}
	if calls[0].SampleRate != 16000 || len(calls[0].PCM) < 10*frameSamples*2 {
		t.Errorf("segment = %d bytes at %d Hz", len(calls[0].PCM), calls[0].SampleRate)
	}
}

func TestProcess_NoMatch(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Text: "pass the salt"}
	e := newEngine(t, p)

	speak(t, e, 10)
	if idx := feedUntil(t, e, 300*time.Millisecond); idx != wake.NoDetection {
		t.Fatalf("unexpected detection %d", idx)
	}
}

func TestProcess_ShortNoiseIgnored(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Text: "hey chef"}
	e := newEngine(t, p)

	speak(t, e, 2) // 60 ms, below the minimum speech length
	feedUntil(t, e, 100*time.Millisecond)
	if n := len(p.Calls()); n != 0 {
		t.Errorf("transcriptions = %d, want 0", n)
	}
}

func TestProcess_TranscriptionErrorKeepsListening(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Func: func(n int, _ stt.Audio) (string, error) {
		if n == 0 {
			return "", errors.New("network down")
		}
		return "hey chef", nil
	}}
	e := newEngine(t, p)

	speak(t, e, 10)
	if idx := feedUntil(t, e, 200*time.Millisecond); idx != wake.NoDetection {
		t.Fatalf("unexpected detection %d after failed transcription", idx)
	}
	speak(t, e, 10)
	if idx := feedUntil(t, e, 2*time.Second); idx != 0 {
		t.Fatalf("detection = %d, want 0", idx)
	}
}

func TestReset_DiscardsPendingDetection(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{Text: "hey chef", Delay: 50 * time.Millisecond}
	e := newEngine(t, p)

	speak(t, e, 10)
	for range 10 {
		_, _ = e.Process(quiet()) // closes the segment and starts a transcription
	}
	e.Reset()
	if idx := feedUntil(t, e, 300*time.Millisecond); idx != wake.NoDetection {
		t.Fatalf("detection %d survived Reset", idx)
	}
}

func TestFactory(t *testing.T) {
	t.Parallel()
	f := Factory(&sttmock.Provider{}, energy.New())
	eng, err := f(testCfg)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
