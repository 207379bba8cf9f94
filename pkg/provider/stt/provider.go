// Package stt defines the speech-to-text provider interface.
//
// A Transcriber consumes a complete PCM16 mono utterance buffer and returns
// its transcription in one call. Streaming recognition is intentionally not
// part of the contract: audio segmentation happens upstream (VAD and explicit
// stream ends), so providers only ever see finalized utterances. Interim
// results, where a provider can produce them, are surfaced through the
// OnInterim callback in Options.
//
// Implementations live in subpackages (whisper, mock).
package stt

import "context"

// Transcriber converts finalized PCM16 utterances to text.
//
// Implementations must be safe for concurrent use; the worker pool above this
// interface dispatches transcriptions from multiple sessions in parallel.
type Transcriber interface {
	// Transcribe converts a complete utterance to text. pcm is 16-bit
	// little-endian signed mono audio at 16 kHz. Transcribe blocks until
	// inference completes or ctx is done.
	Transcribe(ctx context.Context, pcm []byte, opts Options) (*Utterance, error)

	// Models reports the models this provider can serve and which one is
	// active.
	Models(ctx context.Context) (*ModelList, error)

	// SwitchModel selects a different model by name. The switch is applied
	// lazily: the current model keeps serving until the next Transcribe call
	// needs the new one. An unknown name is rejected immediately.
	SwitchModel(name string) error

	// Close releases model resources. No Transcribe call may be in flight or
	// issued afterwards.
	Close() error
}
