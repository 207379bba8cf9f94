package tts

// Request describes one synthesis call.
type Request struct {
	// Text is the chunk to synthesize. Already sanitized and sized by the
	// caller.
	Text string

	// Voice is the engine-specific voice identifier.
	Voice string

	// Language is the BCP-47 language code ("de", "en", ...).
	Language string

	// Speed adjusts speaking rate (0.5–2.0, 1.0 = default). Engines map this
	// onto their native knob (length scale, speaking rate, speed factor).
	Speed float64
}

// Result is the audio produced for one Request.
type Result struct {
	// PCM is mono 16-bit little-endian audio at SampleRate.
	PCM []byte

	// SampleRate is the engine's native output rate.
	SampleRate int
}

// Voice describes one entry of an engine's voice catalogue.
type Voice struct {
	// ID is the engine-specific voice identifier.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Language is the BCP-47 language code of the voice.
	Language string `json:"language,omitempty"`
}
