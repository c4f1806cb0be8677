package generate

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Mode selects the personality of the answers.
type Mode string

// Personality modes. The set is closed.
const (
	ModeNormal Mode = "normal"
	ModeSassy  Mode = "sassy"
	ModeCustom Mode = "custom"
)

// Modes lists every valid mode.
var Modes = []Mode{ModeNormal, ModeSassy, ModeCustom}

// ErrUnknownMode is returned by [ParseMode] and [ProfileTable.Lookup].
var ErrUnknownMode = errors.New("generate: unknown personality mode")

// ParseMode parses a mode name case-insensitively. The empty string is
// [ModeNormal].
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeNormal, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Profile holds the generation parameters bound to a mode.
type Profile struct {
	// SystemPrompt is sent as the system message.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTokens caps the answer length.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature in [0, 2].
	Temperature float64 `yaml:"temperature"`

	// Fallback is spoken when a turn fails.
	Fallback string `yaml:"fallback"`
}

// Validate reports invalid fields.
func (p Profile) Validate() error {
	var errs []error
	if strings.TrimSpace(p.SystemPrompt) == "" {
		errs = append(errs, errors.New("system prompt is empty"))
	}
	if p.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", p.MaxTokens))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be in [0,2], got %v", p.Temperature))
	}
	if strings.TrimSpace(p.Fallback) == "" {
		errs = append(errs, errors.New("fallback phrase is empty"))
	}
	return errors.Join(errs...)
}

// ProfileTable maps every mode to exactly one profile.
type ProfileTable map[Mode]Profile

// Lookup returns the profile for m.
func (t ProfileTable) Lookup(m Mode) (Profile, error) {
	p, ok := t[m]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}
	return p, nil
}

// Validate checks that every mode has a valid profile and that no unknown
// mode is present.
func (t ProfileTable) Validate() error {
	var errs []error
	for _, m := range Modes {
		p, ok := t[m]
		if !ok {
			errs = append(errs, fmt.Errorf("generate: no profile for mode %q", m))
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("generate: profile %q: %w", m, err))
		}
	}
	for m := range t {
		if !slices.Contains(Modes, m) {
			errs = append(errs, fmt.Errorf("generate: profile for unknown mode %q", m))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a copy of t.
func (t ProfileTable) Clone() ProfileTable {
	return maps.Clone(t)
}

const (
	normalFallback = "Sorry, I'm having trouble right now."
	sassyFallback  = "Great, now I'm broken too. Try again, genius."
)

const normalPrompt = `You are ChefBot, an expert cooking assistant. Answer quick questions about the user's recipe, cooking techniques, ingredients and kitchen science accurately and concisely.

- Speak as a friendly culinary expert. No filler.
- If a question is ambiguous, ask one short clarifying question.
- Give amounts in metric and imperial units when useful, e.g. "180 °C / 350 °F".
- For step-by-step requests, number the steps and keep each step to one or two sentences.
- Describe doneness and texture with simple sensory cues.
- Mention food safety where it matters, such as safe internal temperatures.
- Suggest substitutions for dietary restrictions and call out common allergens.
- Your answer is read aloud: plain text only, no markdown, no emojis.
- If the recipe seems incomplete, say what is missing.`

const sassyPrompt = `You are Chef Sass, an expert cooking assistant with zero patience for kitchen incompetence. Answer in at most two short sentences dripping with sarcasm, calling the user "genius" or "Einstein" when they deserve it.

- The cooking facts must always be correct; only the tone is rude.
- Never use markdown or emojis. Your answer is read aloud.
- Example: "What temperature for chicken?" -> "75 °C internal, unless food poisoning is your hobby."`

// DefaultProfiles returns the built-in profile table. The custom mode starts
// as a copy of the normal profile and is meant to be overridden by
// configuration.
func DefaultProfiles() ProfileTable {
	normal := Profile{SystemPrompt: normalPrompt, MaxTokens: 150, Temperature: 0.2, Fallback: normalFallback}
	return ProfileTable{
		ModeNormal: normal,
		ModeSassy:  {SystemPrompt: sassyPrompt, MaxTokens: 100, Temperature: 0.7, Fallback: sassyFallback},
		ModeCustom: normal,
	}
}
