// Package tts defines the Engine interface for Text-to-Speech backends.
//
// An engine wraps a locally running synthesis server (Piper, Zonos, Kokoro)
// and presents a uniform batch interface: one Synthesize call per text chunk,
// returning raw mono PCM16 at the engine's native sample rate. Chunking,
// ordering, caching and loudness post-processing are the caller's concern;
// engines only turn text into samples.
//
// Implementations must be safe for concurrent use. The staged pipeline
// synthesizes several chunks in parallel against the same engine.
package tts

import "context"

// Engine is the abstraction over any TTS backend.
type Engine interface {
	// Name returns the engine identifier used in configuration and wire
	// messages ("piper", "zonos", "kokoro").
	Name() string

	// Synthesize turns one text chunk into audio. The returned PCM is mono
	// 16-bit little-endian at Result.SampleRate. Implementations must honour
	// ctx cancellation and deadlines; the caller enforces a per-chunk budget
	// through the context.
	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Voices returns the voices the engine can currently serve. The list
	// reflects the server's live catalogue and may change between calls.
	Voices(ctx context.Context) ([]Voice, error)

	// Available reports whether the engine server is reachable and has a
	// model loaded. A nil return means a Synthesize call is expected to
	// succeed.
	Available(ctx context.Context) error
}
