package stagedtts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// Slot defaults for "auto" engine resolution.
const (
	DefaultIntroEngine = "piper"
	DefaultMainEngine  = "zonos"
)

// ErrNoEngine is returned when no registered engine can serve a request.
var ErrNoEngine = errors.New("stagedtts: no engine available")

// EngineFactory lazily constructs an engine; it runs at most once per name.
type EngineFactory func() (tts.Engine, error)

// EngineRegistry maps engine names to lazily created engines and knows which
// voice assets exist per engine. Read-mostly: the map of factories is fixed
// after startup; the write lock is only taken while an engine initializes.
type EngineRegistry struct {
	mu        sync.RWMutex
	factories map[string]EngineFactory
	engines   map[string]tts.Engine
	failed    map[string]error
	voices    map[string]config.VoiceConfig
	logger    *slog.Logger
}

// NewEngineRegistry creates an empty registry. voices maps canonical voice
// names to their per-engine assets.
func NewEngineRegistry(voices []config.VoiceConfig, logger *slog.Logger) *EngineRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	vm := make(map[string]config.VoiceConfig, len(voices))
	for _, v := range voices {
		vm[v.Name] = v
	}
	return &EngineRegistry{
		factories: make(map[string]EngineFactory),
		engines:   make(map[string]tts.Engine),
		failed:    make(map[string]error),
		voices:    vm,
		logger:    logger.With("component", "engine-registry"),
	}
}

// Register adds a factory under name. Must be called before concurrent use.
func (r *EngineRegistry) Register(name string, factory EngineFactory) {
	r.factories[name] = factory
}

// Names returns the registered engine names, sorted.
func (r *EngineRegistry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Engine returns the engine registered under name, initializing it on first
// use. A factory failure is remembered so a broken engine fails fast.
func (r *EngineRegistry) Engine(name string) (tts.Engine, error) {
	r.mu.RLock()
	if e, ok := r.engines[name]; ok {
		r.mu.RUnlock()
		return e, nil
	}
	if err, ok := r.failed[name]; ok {
		r.mu.RUnlock()
		return nil, err
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[name]; ok {
		return e, nil
	}
	if err, ok := r.failed[name]; ok {
		return nil, err
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown engine %q", ErrNoEngine, name)
	}
	e, err := factory()
	if err != nil {
		err = fmt.Errorf("stagedtts: init engine %q: %w", name, err)
		r.failed[name] = err
		r.logger.Warn("engine initialization failed", "engine", name, "error", err)
		return nil, err
	}
	r.engines[name] = e
	r.logger.Info("engine initialized", "engine", name)
	return e, nil
}

// HasVoiceAssets reports whether the named engine has the on-disk assets it
// needs for voice. Unknown voices pass: engines with server-side voice
// catalogues validate at synthesis time.
func (r *EngineRegistry) HasVoiceAssets(engine, voice string) bool {
	v, ok := r.voices[voice]
	if !ok {
		return true
	}
	switch engine {
	case "piper":
		return v.PiperModel == "" || fileExists(v.PiperModel)
	case "zonos":
		return v.ZonosSpeaker == "" || fileExists(v.ZonosSpeaker)
	default:
		return true
	}
}

// Resolve picks the engine for one stage slot. preferred is a concrete
// engine name or "auto"; slotDefault is the auto preference for this slot.
// Engines whose factory fails or whose voice assets are missing are skipped;
// "auto" degrades to any registered engine.
func (r *EngineRegistry) Resolve(preferred, slotDefault, voice string) (string, tts.Engine, error) {
	var candidates []string
	if preferred != "" && preferred != string(config.EngineAuto) {
		candidates = []string{preferred}
	} else {
		candidates = append(candidates, slotDefault)
		for _, name := range r.Names() {
			if name != slotDefault {
				candidates = append(candidates, name)
			}
		}
	}

	var lastErr error = ErrNoEngine
	for _, name := range candidates {
		if !r.HasVoiceAssets(name, voice) {
			r.logger.Debug("skipping engine, voice assets missing", "engine", name, "voice", voice)
			continue
		}
		e, err := r.Engine(name)
		if err != nil {
			lastErr = err
			continue
		}
		return name, e, nil
	}
	return "", nil, lastErr
}

// Info describes every registered engine for the discovery surface. Voice
// catalogues are fetched from reachable engines; failures degrade to an
// unavailable entry.
func (r *EngineRegistry) Info(ctx context.Context) []EngineStatus {
	out := make([]EngineStatus, 0, len(r.factories))
	for _, name := range r.Names() {
		st := EngineStatus{Name: name}
		if e, err := r.Engine(name); err == nil {
			if err := e.Available(ctx); err == nil {
				st.Available = true
				if voices, err := e.Voices(ctx); err == nil {
					for _, v := range voices {
						st.Voices = append(st.Voices, v.ID)
					}
				}
			}
		}
		out = append(out, st)
	}
	return out
}

// EngineStatus is one engine's discovery entry.
type EngineStatus struct {
	Name      string
	Available bool
	Voices    []string
}

// AnyLoadable reports success when at least one engine initializes and
// answers its availability probe. Used as a health checker.
func (r *EngineRegistry) AnyLoadable(ctx context.Context) error {
	var lastErr error = ErrNoEngine
	for _, name := range r.Names() {
		e, err := r.Engine(name)
		if err != nil {
			lastErr = err
			continue
		}
		if err := e.Available(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
