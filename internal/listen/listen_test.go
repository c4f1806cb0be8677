package listen

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/heychef/pkg/audio"
	audiomock "github.com/MrWong99/heychef/pkg/audio/mock"
	"github.com/MrWong99/heychef/pkg/provider/vad"
	vadmock "github.com/MrWong99/heychef/pkg/provider/vad/mock"
	"github.com/MrWong99/heychef/pkg/provider/wake"
	wakemock "github.com/MrWong99/heychef/pkg/provider/wake/mock"
)

const (
	testRate  = 16000
	frameSize = 20 * time.Millisecond
)

// frame returns a 20 ms mono frame filled with b.
func frame(b byte) audio.Frame {
	return audio.Frame{
		Data:       bytes.Repeat([]byte{b}, audio.Format{SampleRate: testRate, Channels: 1}.FrameBytes(frameSize)),
		SampleRate: testRate,
		Channels:   1,
	}
}

func frames(b byte, n int) []audio.Frame {
	out := make([]audio.Frame, n)
	for i := range out {
		out[i] = frame(b)
	}
	return out
}

var (
	speechEv  = vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 0.9}
	silenceEv = vad.VADEvent{Type: vad.VADSilence}
)

// byteVAD classifies frames filled with 'S' as speech.
func byteVAD() *vadmock.Engine {
	return &vadmock.Engine{Session: &vadmock.Session{Func: func(f []byte) vad.VADEvent {
		if len(f) > 0 && f[0] == 'S' {
			return speechEv
		}
		return silenceEv
	}}}
}

func testWakeConfig() wake.Config {
	return wake.Config{Phrases: []string{"hey chef"}, Sensitivity: 0.7, SampleRate: testRate}
}

func TestOpenGate_Validation(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{}
	eng := &wakemock.Engine{TriggerAt: -1}

	if _, err := OpenGate(nil, wakemock.Factory(eng, nil), testWakeConfig()); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := OpenGate(src, nil, testWakeConfig()); err == nil {
		t.Error("expected error for nil factory")
	}
	bad := testWakeConfig()
	bad.Sensitivity = 1.5
	if _, err := OpenGate(src, wakemock.Factory(eng, nil), bad); err == nil {
		t.Error("expected error for sensitivity outside [0,1]")
	}
	initErr := errors.New("model file missing")
	_, err := OpenGate(src, wakemock.Factory(&wakemock.Engine{}, initErr), testWakeConfig())
	if !errors.Is(err, initErr) {
		t.Errorf("err = %v, want wrapping %v", err, initErr)
	}
}

func TestGate_TriggersOnDetection(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Frames: frames(0, 10)}
	eng := &wakemock.Engine{TriggerAt: 3}
	g, err := OpenGate(src, wakemock.Factory(eng, nil), testWakeConfig())
	if err != nil {
		t.Fatalf("OpenGate: %v", err)
	}
	defer g.Close()

	if err := g.WaitForTrigger(context.Background()); err != nil {
		t.Fatalf("WaitForTrigger: %v", err)
	}
	if got := eng.Frames(); got != 4 {
		t.Errorf("frames processed = %d, want 4 (returns on the detecting frame)", got)
	}
	if eng.Resets() != 1 {
		t.Errorf("resets = %d, want 1", eng.Resets())
	}

	if err := g.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !eng.Closed() {
		t.Error("engine not closed")
	}
}

func TestGate_EngineErrorSkipsFrame(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{Frames: frames(0, 3)}
	eng := &wakemock.Engine{TriggerAt: -1, Err: errors.New("bad frame")}
	g, err := OpenGate(src, wakemock.Factory(eng, nil), testWakeConfig())
	if err != nil {
		t.Fatalf("OpenGate: %v", err)
	}
	err = g.WaitForTrigger(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want source EOF after skipping failed frames", err)
	}
}

func TestGate_CancelWithinOneFrame(t *testing.T) {
	t.Parallel()
	fill := frame(0)
	src := &audiomock.Source{Fill: &fill, Delay: frameSize}
	eng := &wakemock.Engine{TriggerAt: -1}
	g, err := OpenGate(src, wakemock.Factory(eng, nil), testWakeConfig())
	if err != nil {
		t.Fatalf("OpenGate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.WaitForTrigger(ctx) }()

	time.Sleep(5 * frameSize)
	cancelled := time.Now()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if lat := time.Since(cancelled); lat > 50*time.Millisecond {
			t.Errorf("cancel latency = %s, want <= 50ms", lat)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForTrigger did not return after cancel")
	}
}

func TestRecorder_NoSpeechTimesOut(t *testing.T) {
	t.Parallel()
	fill := frame(0)
	src := &audiomock.Source{Fill: &fill}
	r, err := NewRecorder(src, byteVAD(), vad.Config{SampleRate: testRate})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	u, err := r.Capture(context.Background(), 200*time.Millisecond, 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if u.SpeechFrames != 0 || len(u.PCM) != 0 {
		t.Errorf("utterance = %+v, want zero value", u)
	}
	if got := src.Reads(); got != 10 {
		t.Errorf("reads = %d, want 10 frames of 20ms for 200ms", got)
	}
}

func TestRecorder_NeverReturnsEmptyUtterance(t *testing.T) {
	t.Parallel()
	// Every arrangement of silent frames must end in ErrTimeout.
	for _, n := range []int{1, 2, 5, 9} {
		fill := frame(0)
		src := &audiomock.Source{Frames: frames(1, n), Fill: &fill}
		r, _ := NewRecorder(src, byteVAD(), vad.Config{})
		_, err := r.Capture(context.Background(), 200*time.Millisecond, 40*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("n=%d: err = %v, want ErrTimeout", n, err)
		}
	}
}

func TestRecorder_StopsAfterTrailingSilence(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{}
	src.Push(frames(0, 3)...)
	src.Push(frames('S', 4)...)
	src.Push(frames(0, 2)...)
	src.Push(frames('S', 1)...)
	src.Push(frames(0, 10)...)

	r, _ := NewRecorder(src, byteVAD(), vad.Config{})
	u, err := r.Capture(context.Background(), 5*time.Second, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if u.SpeechFrames != 5 {
		t.Errorf("speech frames = %d, want 5", u.SpeechFrames)
	}
	// 4 speech + 2 silence + 1 speech + 6 trailing silence frames.
	if want := 13 * 20 * time.Millisecond; u.Duration != want {
		t.Errorf("duration = %s, want %s", u.Duration, want)
	}
	if u.SampleRate != testRate || u.Channels != 1 {
		t.Errorf("format = %d/%d, want %d/1", u.SampleRate, u.Channels, testRate)
	}
	if got := src.Reads(); got != 16 {
		t.Errorf("reads = %d, want 16", got)
	}
}

func TestRecorder_SilenceAtLimitContinues(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{}
	src.Push(frames('S', 1)...)
	src.Push(frames(0, 5)...) // exactly maxSilence
	src.Push(frames('S', 1)...)
	src.Push(frames(0, 10)...)

	r, _ := NewRecorder(src, byteVAD(), vad.Config{})
	u, err := r.Capture(context.Background(), 5*time.Second, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if u.SpeechFrames != 2 {
		t.Errorf("speech frames = %d, want 2: a pause of exactly maxSilence must not end the utterance", u.SpeechFrames)
	}
	if got := src.Reads(); got != 13 {
		t.Errorf("reads = %d, want 13", got)
	}
}

func TestRecorder_HardCapWhileSpeaking(t *testing.T) {
	t.Parallel()
	fill := frame('S')
	src := &audiomock.Source{Fill: &fill}
	r, _ := NewRecorder(src, byteVAD(), vad.Config{})

	u, err := r.Capture(context.Background(), 300*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if u.Duration != 300*time.Millisecond {
		t.Errorf("duration = %s, want 300ms", u.Duration)
	}
}

func TestRecorder_PreRoll(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{}
	src.Push(frame(1), frame(2), frame(3), frame(4))
	src.Push(frames('S', 2)...)
	src.Push(frames(0, 5)...)

	r, _ := NewRecorder(src, byteVAD(), vad.Config{}, WithPreRoll(40*time.Millisecond))
	u, err := r.Capture(context.Background(), time.Second, 60*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	n := len(frame(0).Data)
	if u.PCM[0] != 3 || u.PCM[n] != 4 || u.PCM[2*n] != 'S' {
		t.Errorf("utterance does not start with the two frames before speech")
	}
	if want := (2 + 2 + 4) * 20 * time.Millisecond; u.Duration != want {
		t.Errorf("duration = %s, want %s", u.Duration, want)
	}
}

func TestRecorder_VADErrorCountsAsSilence(t *testing.T) {
	t.Parallel()
	fill := frame('S')
	src := &audiomock.Source{Fill: &fill}
	eng := &vadmock.Engine{Session: &vadmock.Session{ProcessFrameErr: errors.New("vad broke")}}
	r, _ := NewRecorder(src, eng, vad.Config{})

	if _, err := r.Capture(context.Background(), 100*time.Millisecond, 40*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestRecorder_Errors(t *testing.T) {
	t.Parallel()
	src := &audiomock.Source{}
	if _, err := NewRecorder(nil, byteVAD(), vad.Config{}); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := NewRecorder(src, nil, vad.Config{}); err == nil {
		t.Error("expected error for nil engine")
	}

	r, _ := NewRecorder(src, byteVAD(), vad.Config{})
	if _, err := r.Capture(context.Background(), 0, time.Second); err == nil {
		t.Error("expected error for zero max duration")
	}
	if _, err := r.Capture(context.Background(), time.Second, 0); err == nil {
		t.Error("expected error for zero max silence")
	}

	sessErr := errors.New("no session")
	r, _ = NewRecorder(src, &vadmock.Engine{NewSessionErr: sessErr}, vad.Config{})
	if _, err := r.Capture(context.Background(), time.Second, time.Second); !errors.Is(err, sessErr) {
		t.Errorf("err = %v, want wrapping %v", err, sessErr)
	}

	r, _ = NewRecorder(&audiomock.Source{}, byteVAD(), vad.Config{})
	if _, err := r.Capture(context.Background(), time.Second, time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want wrapping io.EOF", err)
	}
}

func TestRecorder_CancelWithinOneFrame(t *testing.T) {
	t.Parallel()
	fill := frame('S')
	src := &audiomock.Source{Fill: &fill, Delay: frameSize}
	r, _ := NewRecorder(src, byteVAD(), vad.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Capture(ctx, time.Minute, time.Minute)
		done <- err
	}()

	time.Sleep(5 * frameSize)
	cancelled := time.Now()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if lat := time.Since(cancelled); lat > 50*time.Millisecond {
			t.Errorf("cancel latency = %s, want <= 50ms", lat)
		}
	case <-time.After(time.Second):
		t.Fatal("Capture did not return after cancel")
	}
}
