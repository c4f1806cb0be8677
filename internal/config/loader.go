package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/heychef/internal/generate"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":  {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":  {"openai", "deepgram", "whisper", "whisper-native"},
	"tts":  {"openai", "elevenlabs", "coqui"},
	"vad":  {"energy"},
	"wake": {"phonetic"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate    = 16000
	DefaultFrameDuration = 30 * time.Millisecond
	DefaultPreRoll       = 150 * time.Millisecond
	DefaultSensitivity   = 0.7
	DefaultAggressive    = 1
	DefaultMaxDuration   = 15 * time.Second
	DefaultMaxSilence    = time.Second
	DefaultCallTimeout   = 30 * time.Second
	DefaultRetryBackoff  = 250 * time.Millisecond
	DefaultPrefetch      = 2
)

// DefaultPhrases are the trigger phrases used when none are configured.
var DefaultPhrases = []string{"hey chef"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.Getenv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader for an in-memory document.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// ApplyEnv fills credentials left empty in cfg from the environment.
// OPENAI_API_KEY (or HEYCHEF_OPENAI_API_KEY, which wins) is used by every
// provider named "openai"; NOTION_API_TOKEN and NOTION_RECIPES_DB_ID fill the
// Notion settings.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	key := getenv("HEYCHEF_OPENAI_API_KEY")
	if key == "" {
		key = getenv("OPENAI_API_KEY")
	}
	var fill func(e *ProviderEntry)
	fill = func(e *ProviderEntry) {
		if e.Name == "openai" && e.APIKey == "" {
			e.APIKey = key
		}
		for i := range e.Fallbacks {
			fill(&e.Fallbacks[i])
		}
	}
	for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.STT, &cfg.Providers.TTS} {
		fill(e)
	}
	if cfg.Recipe.Notion.Token == "" {
		cfg.Recipe.Notion.Token = getenv("NOTION_API_TOKEN")
	}
	if cfg.Recipe.Notion.DatabaseID == "" {
		cfg.Recipe.Notion.DatabaseID = getenv("NOTION_RECIPES_DB_ID")
	}
}

// ApplyDefaults fills every unset field that has a default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.FrameDuration == 0 {
		a.FrameDuration = DefaultFrameDuration
	}
	if a.PreRoll == 0 {
		a.PreRoll = DefaultPreRoll
	}
	if a.VADAggressiveness == nil {
		a.VADAggressiveness = ptr(DefaultAggressive)
	}

	if len(cfg.Wake.Phrases) == 0 {
		cfg.Wake.Phrases = slices.Clone(DefaultPhrases)
	}
	if cfg.Wake.Sensitivity == nil {
		cfg.Wake.Sensitivity = ptr(DefaultSensitivity)
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}
	if cfg.Providers.Wake.Name == "" {
		cfg.Providers.Wake.Name = "phonetic"
	}

	s := &cfg.Session
	if s.Mode == "" {
		s.Mode = string(generate.ModeNormal)
	}
	if s.UseHistory == nil {
		s.UseHistory = ptr(true)
	}
	if s.MaxDuration == 0 {
		s.MaxDuration = DefaultMaxDuration
	}
	if s.MaxSilence == 0 {
		s.MaxSilence = DefaultMaxSilence
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = DefaultCallTimeout
	}
	if s.RetryBackoff == 0 {
		s.RetryBackoff = DefaultRetryBackoff
	}

	if cfg.Speech.Prefetch == 0 {
		cfg.Speech.Prefetch = DefaultPrefetch
	}
	if cfg.Recipe.Source == "" {
		cfg.Recipe.Source = RecipeBundled
	}
}

func ptr[T any](v T) *T { return &v }

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("wake", cfg.Providers.Wake.Name)
	for kind, e := range map[string]ProviderEntry{"llm": cfg.Providers.LLM, "stt": cfg.Providers.STT, "tts": cfg.Providers.TTS} {
		for i, fb := range e.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
		if len(e.Fallbacks) > 0 && e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s has fallbacks but no primary name", kind))
		}
	}
	if len(cfg.Providers.VAD.Fallbacks) > 0 || len(cfg.Providers.Wake.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.vad and providers.wake do not support fallbacks"))
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; sessions cannot answer questions")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; sessions cannot transcribe questions")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; sessions cannot speak answers")
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.FrameDuration < 0 || a.FrameDuration > time.Second {
		errs = append(errs, fmt.Errorf("audio.frame_duration %s is out of range (0, 1s]", a.FrameDuration))
	}
	if a.PreRoll < 0 {
		errs = append(errs, fmt.Errorf("audio.pre_roll %s must not be negative", a.PreRoll))
	}
	if a.VADAggressiveness != nil && (*a.VADAggressiveness < 0 || *a.VADAggressiveness > 3) {
		errs = append(errs, fmt.Errorf("audio.vad_aggressiveness %d is out of range [0, 3]", *a.VADAggressiveness))
	}

	// Wake
	for i, p := range cfg.Wake.Phrases {
		if p == "" {
			errs = append(errs, fmt.Errorf("wake.phrases[%d] is empty", i))
		}
	}
	if s := cfg.Wake.Sensitivity; s != nil && (*s < 0 || *s > 1) {
		errs = append(errs, fmt.Errorf("wake.sensitivity %.2f is out of range [0, 1]", *s))
	}

	// Session
	if _, err := generate.ParseMode(cfg.Session.Mode); err != nil {
		errs = append(errs, fmt.Errorf("session.mode: %w", err))
	}
	for name, d := range map[string]time.Duration{
		"session.max_duration":  cfg.Session.MaxDuration,
		"session.max_silence":   cfg.Session.MaxSilence,
		"session.call_timeout":  cfg.Session.CallTimeout,
		"session.retry_backoff": cfg.Session.RetryBackoff,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}
	if cfg.Session.MaxSilence > 0 && cfg.Session.MaxDuration > 0 && cfg.Session.MaxSilence >= cfg.Session.MaxDuration {
		errs = append(errs, fmt.Errorf("session.max_silence %s must be shorter than session.max_duration %s", cfg.Session.MaxSilence, cfg.Session.MaxDuration))
	}
	if cfg.Session.HistoryTokens < 0 {
		errs = append(errs, fmt.Errorf("session.history_tokens %d must not be negative", cfg.Session.HistoryTokens))
	}

	// Generation profiles: unknown modes are rejected here, never at call time.
	for name := range cfg.Generation.Profiles {
		if _, err := generate.ParseMode(name); err != nil {
			errs = append(errs, fmt.Errorf("generation.profiles: %w", err))
		}
	}
	if len(errs) == 0 {
		if _, err := cfg.Generation.ProfileTable(); err != nil {
			errs = append(errs, fmt.Errorf("generation.profiles: %w", err))
		}
	}

	// Speech
	for i, b := range cfg.Speech.Boundaries {
		if b == "" {
			errs = append(errs, fmt.Errorf("speech.boundaries[%d] is empty", i))
		}
	}
	if cfg.Speech.MinChars < 0 || cfg.Speech.MaxChars < 0 || cfg.Speech.Prefetch < 0 {
		errs = append(errs, errors.New("speech.min_chars, speech.max_chars and speech.prefetch must not be negative"))
	}
	if cfg.Speech.MaxChars > 0 && cfg.Speech.MinChars > cfg.Speech.MaxChars {
		errs = append(errs, fmt.Errorf("speech.min_chars %d exceeds speech.max_chars %d", cfg.Speech.MinChars, cfg.Speech.MaxChars))
	}

	// Recipe
	r := cfg.Recipe
	if r.Source != "" && !r.Source.IsValid() {
		errs = append(errs, fmt.Errorf("recipe.source %q is invalid; valid values: bundled, file, text, postgres, notion", r.Source))
	}
	switch r.Source {
	case RecipeFile:
		if r.Path == "" {
			errs = append(errs, errors.New("recipe.path is required when source is file"))
		}
	case RecipeText:
		if r.Text == "" {
			errs = append(errs, errors.New("recipe.text is required when source is text"))
		}
	case RecipePostgres:
		if r.PostgresDSN == "" {
			errs = append(errs, errors.New("recipe.postgres_dsn is required when source is postgres"))
		}
	case RecipeNotion:
		if r.Notion.Token == "" {
			errs = append(errs, errors.New("recipe.notion.token (or NOTION_API_TOKEN) is required when source is notion"))
		}
		if r.ID == "" && r.Notion.DatabaseID == "" {
			errs = append(errs, errors.New("recipe.id or recipe.notion.database_id is required when source is notion"))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
