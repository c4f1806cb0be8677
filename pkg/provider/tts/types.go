package tts

// Voice selects how a provider renders speech.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is an optional language hint (e.g. "en").
	Language string

	// Speed adjusts speaking rate (0.5–2.0). Zero means provider default.
	Speed float64

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}
