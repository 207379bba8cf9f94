// Package mock provides a test double for the tts.Engine interface.
//
// Use Engine to feed controlled PCM to consumers, to inject synthesis delays
// and failures, and to verify the requests passed to the backend.
//
// Example:
//
//	e := &mock.Engine{
//	    EngineName: "piper",
//	    PCM:        bytes.Repeat([]byte{0x01, 0x00}, 1600),
//	    Rate:       22050,
//	}
//	res, _ := e.Synthesize(ctx, tts.Request{Text: "Hallo.", Language: "de"})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Engine is a mock implementation of tts.Engine.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EngineName is returned by Name. Defaults to "mock" when empty.
	EngineName string

	// PCM is the audio returned by Synthesize. When nil, a short non-silent
	// buffer is returned so callers always see audio on success.
	PCM []byte

	// Rate is the sample rate of the returned Result. Defaults to 22050.
	Rate int

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Delay is slept (honouring ctx) before Synthesize returns. Used to
	// exercise per-chunk timeouts.
	Delay time.Duration

	// SynthesizeFunc, if non-nil, fully replaces the canned behaviour.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Result, error)

	// VoicesResult is returned by Voices.
	VoicesResult []tts.Voice

	// VoicesErr, if non-nil, is returned by Voices.
	VoicesErr error

	// AvailableErr, if non-nil, is returned by Available.
	AvailableErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall
}

// Name returns EngineName, or "mock" when unset.
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.EngineName == "" {
		return "mock"
	}
	return e.EngineName
}

// Synthesize records the call, sleeps Delay, and returns the configured
// result or error.
func (e *Engine) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	e.mu.Lock()
	e.SynthesizeCalls = append(e.SynthesizeCalls, SynthesizeCall{Req: req})
	fn := e.SynthesizeFunc
	delay := e.Delay
	err := e.Err
	pcm := e.PCM
	rate := e.Rate
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if pcm == nil {
		pcm = []byte{0x10, 0x00, 0xf0, 0xff, 0x10, 0x00, 0xf0, 0xff}
	}
	if rate == 0 {
		rate = 22050
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return &tts.Result{PCM: out, SampleRate: rate}, nil
}

// Voices returns VoicesResult, VoicesErr.
func (e *Engine) Voices(_ context.Context) ([]tts.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.VoicesResult, e.VoicesErr
}

// Available returns AvailableErr.
func (e *Engine) Available(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.AvailableErr
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (e *Engine) Calls() []SynthesizeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SynthesizeCall, len(e.SynthesizeCalls))
	copy(out, e.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SynthesizeCalls = nil
}

// Ensure Engine implements tts.Engine at compile time.
var _ tts.Engine = (*Engine)(nil)
