package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/heychef/internal/app"
	"github.com/MrWong99/heychef/internal/config"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/internal/recipe"
	"github.com/MrWong99/heychef/internal/session"
	"github.com/MrWong99/heychef/pkg/audio"
	audiomock "github.com/MrWong99/heychef/pkg/audio/mock"
	"github.com/MrWong99/heychef/pkg/provider/llm"
	llmmock "github.com/MrWong99/heychef/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/heychef/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/heychef/pkg/provider/tts/mock"
	"github.com/MrWong99/heychef/pkg/provider/vad"
	vadmock "github.com/MrWong99/heychef/pkg/provider/vad/mock"
	wakemock "github.com/MrWong99/heychef/pkg/provider/wake/mock"
)

// testConfig returns a defaulted config without audio commands or server.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "mock"},
			STT: config.ProviderEntry{Name: "mock"},
			TTS: config.ProviderEntry{Name: "mock"},
		},
		Recipe: config.RecipeConfig{Source: config.RecipeText, Text: "Pancakes. 200 g flour, 2 eggs, 300 ml milk."},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// testProviders returns mock providers. The wake engine never triggers.
func testProviders(eng *wakemock.Engine) *app.Providers {
	return &app.Providers{
		LLM:  &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Use 200 grams of flour."}},
		STT:  &sttmock.Provider{Text: "how much flour"},
		TTS:  &ttsmock.Provider{},
		VAD:  &vadmock.Engine{Session: &vadmock.Session{EventResult: vad.VADEvent{Type: vad.VADSilence}}},
		Wake: wakemock.Factory(eng, nil),
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config, eng *wakemock.Engine, opts ...app.Option) *app.App {
	t.Helper()
	fill := audio.Frame{Data: make([]byte, 960), SampleRate: 16000, Channels: 1}
	base := []app.Option{
		app.WithAudioSource(&audiomock.Source{Fill: &fill, Delay: time.Millisecond}),
		app.WithAudioSink(&audiomock.Sink{}),
		app.WithMetrics(testMetrics(t)),
	}
	a, err := app.New(context.Background(), cfg, testProviders(eng), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), &wakemock.Engine{TriggerAt: -1})
	snap := a.Snapshot()
	if snap.Running {
		t.Error("session running right after New")
	}
	if snap.State != session.Idle {
		t.Errorf("state = %v, want idle", snap.State)
	}
}

func TestNew_MissingProviders(t *testing.T) {
	t.Parallel()

	ps := testProviders(&wakemock.Engine{})
	ps.LLM = nil
	ps.Wake = nil
	_, err := app.New(context.Background(), testConfig(), ps,
		app.WithAudioSource(&audiomock.Source{}), app.WithAudioSink(&audiomock.Sink{}))
	if err == nil {
		t.Fatal("expected error for missing providers")
	}
	for _, want := range []string{"providers.llm", "providers.wake"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}

	if _, err := app.New(context.Background(), testConfig(), nil); err == nil {
		t.Error("expected error for nil providers")
	}
}

func TestNew_InvalidProfiles(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Generation.Profiles = map[string]config.ProfileConfig{"grumpy": {SystemPrompt: "x"}}
	_, err := app.New(context.Background(), cfg, testProviders(&wakemock.Engine{}),
		app.WithAudioSource(&audiomock.Source{}), app.WithAudioSink(&audiomock.Sink{}),
		app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for unknown profile mode")
	}
}

func TestApp_Handler(t *testing.T) {
	t.Parallel()

	store := recipe.NewMemStore()
	a := newTestApp(t, testConfig(), &wakemock.Engine{TriggerAt: -1}, app.WithRecipeStore(store))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/v1/session", http.StatusOK},
		{http.MethodGet, "/v1/recipes", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodDelete, "/v1/session/history", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestApp_StartOverHTTP(t *testing.T) {
	t.Parallel()

	eng := &wakemock.Engine{TriggerAt: -1}
	a := newTestApp(t, testConfig(), eng)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/session/start", "application/json", strings.NewReader(`{"mode":"sassy"}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if !snap.Running || snap.Mode != "sassy" {
		t.Errorf("snapshot = %+v, want running sassy session", snap)
	}

	// A second start conflicts.
	resp, err = http.Post(srv.URL+"/v1/session/start", "application/json", nil)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/session/stop?wait=true", "application/json", nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("stop status = %d, want 200", resp.StatusCode)
	}
	if a.Snapshot().Running {
		t.Error("session still running after stop")
	}
	if !eng.Closed() {
		t.Error("wake engine not closed after stop")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), &wakemock.Engine{TriggerAt: -1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	// Second call is a no-op.
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestApp_RunAutostart(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Session.AutoStart = true
	cfg.Session.Streaming = true
	a := newTestApp(t, cfg, &wakemock.Engine{TriggerAt: -1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.Snapshot().Running {
		if time.Now().After(deadline) {
			t.Fatal("autostarted session never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !a.Snapshot().Streaming {
		t.Error("autostarted session does not use the configured streaming default")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Snapshot().Running {
		t.Error("session still running after Run returned")
	}
}

func TestApp_RunServesHTTP(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	a := newTestApp(t, cfg, &wakemock.Engine{TriggerAt: -1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
