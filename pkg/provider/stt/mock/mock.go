// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to feed controlled transcripts to consumers, inject
// failures and delays, and verify the buffers passed in.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is the audio buffer passed to Transcribe.
	PCM []byte

	// Opts are the options passed to Transcribe.
	Opts stt.Options
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Text is returned in the Utterance. Defaults to "hallo welt".
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Delay is slept (honouring ctx) before Transcribe returns.
	Delay time.Duration

	// Interims, when non-empty, are fed to opts.OnInterim in order before the
	// final result.
	Interims []string

	// ModelList is returned by Models. Defaults to a single "base" model.
	ModelList *stt.ModelList

	// SwitchErr, if non-nil, is returned by SwitchModel.
	SwitchErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// Switches records every model name passed to SwitchModel.
	Switches []string
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call, emits configured interims, and returns the
// configured text or error.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, opts stt.Options) (*stt.Utterance, error) {
	m.mu.Lock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{PCM: buf, Opts: opts})
	text := m.Text
	err := m.Err
	delay := m.Delay
	interims := m.Interims
	m.mu.Unlock()

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

	if opts.OnInterim != nil {
		for _, s := range interims {
			opts.OnInterim(s)
		}
	}
	if text == "" {
		text = "hallo welt"
	}
	lang := opts.Language
	if lang == "" {
		lang = "de"
	}
	return &stt.Utterance{Text: text, Language: lang, Model: "mock"}, nil
}

// Models returns ModelList, or a single-entry default.
func (m *Transcriber) Models(_ context.Context) (*stt.ModelList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ModelList != nil {
		return m.ModelList, nil
	}
	return &stt.ModelList{Models: []string{"base"}, Current: "base"}, nil
}

// SwitchModel records the call and returns SwitchErr.
func (m *Transcriber) SwitchModel(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Switches = append(m.Switches, name)
	return m.SwitchErr
}

// Close is a no-op.
func (m *Transcriber) Close() error { return nil }

// Calls returns a copy of the recorded Transcribe calls. Thread-safe.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.TranscribeCalls))
	copy(out, m.TranscribeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
	m.Switches = nil
}
