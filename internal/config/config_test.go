package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/heychef/internal/config"
	"github.com/MrWong99/heychef/internal/generate"
	"github.com/MrWong99/heychef/pkg/provider/llm"
	llmmock "github.com/MrWong99/heychef/pkg/provider/llm/mock"
	"github.com/MrWong99/heychef/pkg/provider/stt"
	sttmock "github.com/MrWong99/heychef/pkg/provider/stt/mock"
	"github.com/MrWong99/heychef/pkg/provider/tts"
	ttsmock "github.com/MrWong99/heychef/pkg/provider/tts/mock"
	"github.com/MrWong99/heychef/pkg/provider/vad"
	vadmock "github.com/MrWong99/heychef/pkg/provider/vad/mock"
	"github.com/MrWong99/heychef/pkg/provider/wake"
	wakemock "github.com/MrWong99/heychef/pkg/provider/wake/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: info

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o
  stt:
    name: whisper
    base_url: http://localhost:8178
  tts:
    name: openai
    api_key: sk-test
    model: tts-1
  vad:
    name: energy
  wake:
    name: phonetic

audio:
  sample_rate: 16000
  frame_duration: 20ms
  vad_aggressiveness: 2
  capture:
    command: arecord
    args: ["-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"]
  playback:
    command: aplay
    args: ["-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"]

wake:
  phrases: ["hey chef", "okay chef"]
  sensitivity: 0.5

session:
  mode: sassy
  streaming: true
  use_history: false
  max_duration: 10s
  max_silence: 1500ms

generation:
  profiles:
    custom:
      system_prompt: You are a pirate chef.
      temperature: 0.9

speech:
  voice: alloy
  boundaries: [". ", "! "]
  min_chars: 20

recipe:
  source: file
  path: recipes/pancakes.yaml
`

func mustLoad(t *testing.T, doc string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── Load / decode ────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.STT.BaseURL != "http://localhost:8178" {
		t.Errorf("stt.base_url: got %q", cfg.Providers.STT.BaseURL)
	}
	if cfg.Audio.FrameDuration != 20*time.Millisecond {
		t.Errorf("frame_duration: got %s", cfg.Audio.FrameDuration)
	}
	if *cfg.Audio.VADAggressiveness != 2 {
		t.Errorf("vad_aggressiveness: got %d", *cfg.Audio.VADAggressiveness)
	}
	if args := cfg.Audio.Capture.Args; len(args) != 9 || args[6] != "{rate}" || args[8] != "{channels}" {
		t.Errorf("capture args: got %q", args)
	}
	if len(cfg.Wake.Phrases) != 2 || *cfg.Wake.Sensitivity != 0.5 {
		t.Errorf("wake: got %+v / %v", cfg.Wake.Phrases, *cfg.Wake.Sensitivity)
	}
	if cfg.Session.Mode != "sassy" || !cfg.Session.Streaming || *cfg.Session.UseHistory {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if cfg.Session.MaxSilence != 1500*time.Millisecond {
		t.Errorf("max_silence: got %s", cfg.Session.MaxSilence)
	}
	if cfg.Recipe.Source != config.RecipeFile || cfg.Recipe.Path != "recipes/pancakes.yaml" {
		t.Errorf("recipe: got %+v", cfg.Recipe)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameDuration != 30*time.Millisecond {
		t.Errorf("audio defaults: got %+v", cfg.Audio)
	}
	if cfg.Audio.PreRoll != config.DefaultPreRoll {
		t.Errorf("pre_roll: got %s", cfg.Audio.PreRoll)
	}
	if *cfg.Audio.VADAggressiveness != 1 {
		t.Errorf("vad_aggressiveness: got %d", *cfg.Audio.VADAggressiveness)
	}
	if len(cfg.Wake.Phrases) != 1 || cfg.Wake.Phrases[0] != "hey chef" {
		t.Errorf("phrases: got %v", cfg.Wake.Phrases)
	}
	if *cfg.Wake.Sensitivity != 0.7 {
		t.Errorf("sensitivity: got %v", *cfg.Wake.Sensitivity)
	}
	if cfg.Session.Mode != "normal" || cfg.Session.Streaming || !*cfg.Session.UseHistory {
		t.Errorf("session defaults: got mode=%q streaming=%v use_history=%v",
			cfg.Session.Mode, cfg.Session.Streaming, *cfg.Session.UseHistory)
	}
	if cfg.Session.MaxDuration != 15*time.Second || cfg.Session.MaxSilence != time.Second {
		t.Errorf("limits: got %s / %s", cfg.Session.MaxDuration, cfg.Session.MaxSilence)
	}
	if cfg.Providers.VAD.Name != "energy" || cfg.Providers.Wake.Name != "phonetic" {
		t.Errorf("provider defaults: vad=%q wake=%q", cfg.Providers.VAD.Name, cfg.Providers.Wake.Name)
	}
	if cfg.Recipe.Source != config.RecipeBundled {
		t.Errorf("recipe.source: got %q", cfg.Recipe.Source)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("session:\n  sassy: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/heychef.yaml")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ── Validate ─────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"unknown mode", "session:\n  mode: grumpy\n", "session.mode"},
		{"unknown profile", "generation:\n  profiles:\n    grumpy:\n      max_tokens: 10\n", "generation.profiles"},
		{"bad profile", "generation:\n  profiles:\n    sassy:\n      temperature: 3\n", "temperature"},
		{"sensitivity", "wake:\n  sensitivity: 1.5\n", "wake.sensitivity"},
		{"aggressiveness", "audio:\n  vad_aggressiveness: 4\n", "audio.vad_aggressiveness"},
		{"silence vs duration", "session:\n  max_duration: 2s\n  max_silence: 3s\n", "max_silence"},
		{"negative duration", "session:\n  call_timeout: -1s\n", "session.call_timeout"},
		{"recipe source", "recipe:\n  source: ftp\n", "recipe.source"},
		{"file needs path", "recipe:\n  source: file\n", "recipe.path"},
		{"text needs text", "recipe:\n  source: text\n", "recipe.text"},
		{"postgres needs dsn", "recipe:\n  source: postgres\n", "recipe.postgres_dsn"},
		{"chunk sizes", "speech:\n  min_chars: 50\n  max_chars: 10\n", "speech.min_chars"},
		{"empty boundary", "speech:\n  boundaries: [\"\"]\n", "speech.boundaries"},
		{"fallback without name", "providers:\n  llm:\n    name: openai\n    fallbacks:\n      - model: llama3\n", "providers.llm.fallbacks[0].name"},
		{"fallback without primary", "providers:\n  tts:\n    fallbacks:\n      - name: coqui\n", "no primary name"},
		{"vad fallback", "providers:\n  vad:\n    name: energy\n    fallbacks:\n      - name: energy\n", "do not support fallbacks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nsession:\n  mode: grumpy\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "session.mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"OPENAI_API_KEY":         "sk-plain",
		"HEYCHEF_OPENAI_API_KEY": "sk-chef",
		"NOTION_API_TOKEN":       "secret_x",
		"NOTION_RECIPES_DB_ID":   "db1",
	}
	cfg := &config.Config{}
	cfg.Providers.LLM = config.ProviderEntry{Name: "openai"}
	cfg.Providers.STT = config.ProviderEntry{Name: "openai", APIKey: "explicit"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "elevenlabs", Fallbacks: []config.ProviderEntry{{Name: "openai"}}}

	config.ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Providers.TTS.Fallbacks[0].APIKey != "sk-chef" {
		t.Errorf("tts fallback api_key: got %q, want sk-chef", cfg.Providers.TTS.Fallbacks[0].APIKey)
	}

	if cfg.Providers.LLM.APIKey != "sk-chef" {
		t.Errorf("llm api_key: got %q, want sk-chef", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.APIKey != "explicit" {
		t.Errorf("stt api_key overwritten: got %q", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "" {
		t.Errorf("non-openai tts got api_key %q", cfg.Providers.TTS.APIKey)
	}
	if cfg.Recipe.Notion.Token != "secret_x" || cfg.Recipe.Notion.DatabaseID != "db1" {
		t.Errorf("notion: got %+v", cfg.Recipe.Notion)
	}
}

// ── Profiles ─────────────────────────────────────────────────────────────────

func TestGenerationConfig_ProfileTable(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)

	table, err := cfg.Generation.ProfileTable()
	if err != nil {
		t.Fatalf("ProfileTable: %v", err)
	}
	custom := table[generate.ModeCustom]
	if custom.SystemPrompt != "You are a pirate chef." {
		t.Errorf("custom prompt: got %q", custom.SystemPrompt)
	}
	if custom.Temperature != 0.9 {
		t.Errorf("custom temperature: got %v", custom.Temperature)
	}
	defaults := generate.DefaultProfiles()
	if custom.MaxTokens != defaults[generate.ModeCustom].MaxTokens {
		t.Errorf("custom max_tokens: got %d, want default %d", custom.MaxTokens, defaults[generate.ModeCustom].MaxTokens)
	}
	if table[generate.ModeSassy] != defaults[generate.ModeSassy] {
		t.Error("sassy profile changed without override")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("fake", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterSTT("fake", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("fake", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterVAD("fake", func(config.ProviderEntry) (vad.Engine, error) { return &vadmock.Engine{}, nil })

	eng := &wakemock.Engine{TriggerAt: -1}
	var gotDeps config.WakeDeps
	reg.RegisterWake("fake", func(_ config.ProviderEntry, deps config.WakeDeps) (wake.Factory, error) {
		gotDeps = deps
		return wakemock.Factory(eng, nil), nil
	})

	entry := config.ProviderEntry{Name: "fake"}
	if _, err := reg.CreateLLM(entry); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	sttP, err := reg.CreateSTT(entry)
	if err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(entry); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	vadE, err := reg.CreateVAD(entry)
	if err != nil {
		t.Errorf("CreateVAD: %v", err)
	}
	factory, err := reg.CreateWake(entry, config.WakeDeps{STT: sttP, VAD: vadE})
	if err != nil {
		t.Fatalf("CreateWake: %v", err)
	}
	if gotDeps.STT != sttP || gotDeps.VAD != vadE {
		t.Error("wake factory did not receive the built providers")
	}
	got, err := factory(wake.Config{Phrases: []string{"hey chef"}, Sensitivity: 0.5, SampleRate: 16000})
	if err != nil || got != eng {
		t.Errorf("factory: got %v, %v", got, err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "missing"}

	checks := map[string]error{}
	_, checks["llm"] = reg.CreateLLM(entry)
	_, checks["stt"] = reg.CreateSTT(entry)
	_, checks["tts"] = reg.CreateTTS(entry)
	_, checks["vad"] = reg.CreateVAD(entry)
	_, checks["wake"] = reg.CreateWake(entry, config.WakeDeps{})
	for kind, err := range checks {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: got %v, want ErrProviderNotRegistered", kind, err)
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterLLM("bad", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "bad"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}
