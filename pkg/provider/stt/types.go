package stt

// Options carries per-call transcription parameters.
type Options struct {
	// Language is the BCP-47 language code to transcribe in ("de", "en", ...).
	// Empty means the provider default.
	Language string

	// StreamID identifies the originating audio stream. Providers pass it
	// through to interim callbacks and logs; it has no effect on inference.
	StreamID string

	// OnInterim, when non-nil, receives partial text as inference progresses.
	// It is called from the inference goroutine and must return quickly.
	OnInterim func(text string)
}

// Utterance is the result of transcribing one finalized audio buffer.
type Utterance struct {
	// Text is the transcribed text, whitespace-trimmed. May be empty when the
	// audio contained no recognizable speech.
	Text string

	// Language is the language the text was transcribed in.
	Language string

	// Model is the name of the model that produced the text.
	Model string

	// AudioDurationMS is the duration of the transcribed audio.
	AudioDurationMS int
}

// ModelList is the discovery result of Transcriber.Models.
type ModelList struct {
	// Models are the model names available to this provider.
	Models []string

	// Current is the active (or lazily pending) model name.
	Current string

	// GPU reports whether inference runs on a GPU device.
	GPU bool
}
