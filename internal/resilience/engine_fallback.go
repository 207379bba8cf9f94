package resilience

import (
	"context"

	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// EngineFallback implements [tts.Engine] with automatic failover across
// multiple engine servers. Each engine has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
// It backs the "auto" engine selection: piper, zonos and kokoro are
// registered in preference order and the first reachable one serves the
// request.
type EngineFallback struct {
	group *FallbackGroup[tts.Engine]
}

// Compile-time interface assertion.
var _ tts.Engine = (*EngineFallback)(nil)

// NewEngineFallback creates an [EngineFallback] with primary as the preferred
// engine.
func NewEngineFallback(primary tts.Engine, cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional engine as a fallback.
func (f *EngineFallback) AddFallback(engine tts.Engine) {
	f.group.AddFallback(engine.Name(), engine)
}

// Name returns "auto".
func (f *EngineFallback) Name() string { return "auto" }

// Synthesize sends the request to the first healthy engine and returns its
// result.
func (f *EngineFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	return ExecuteWithResult(f.group, func(e tts.Engine) (*tts.Result, error) {
		return e.Synthesize(ctx, req)
	})
}

// Voices returns the catalogue of the first healthy engine.
func (f *EngineFallback) Voices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(e tts.Engine) ([]tts.Voice, error) {
		return e.Voices(ctx)
	})
}

// Available reports success when any registered engine is available.
func (f *EngineFallback) Available(ctx context.Context) error {
	return f.group.Execute(func(e tts.Engine) error {
		return e.Available(ctx)
	})
}
