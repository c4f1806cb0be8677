package whisper_test

import (
	"context"
	"os"
	"testing"

	"github.com/MrWong99/heychef/pkg/provider/stt"
	"github.com/MrWong99/heychef/pkg/provider/stt/whisper"
)

// testModelPath returns WHISPER_MODEL_PATH or skips the test.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	if _, err := whisper.NewNative("/nonexistent/path/to/model.bin"); err == nil {
		t.Fatal("expected error for invalid model path")
	}
}

func TestNativeTranscribe_Silence(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	// One second of silence at 48 kHz exercises the resampling path.
	_, err = p.Transcribe(context.Background(), stt.Audio{PCM: make([]byte, 96000), SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestNativeTranscribe_CancelledContext(t *testing.T) {
	p, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Audio{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
