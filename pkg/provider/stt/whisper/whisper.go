// Package whisper implements stt.Transcriber with the whisper.cpp CGO
// bindings. Inference runs fully in process: PCM16 buffers are converted to
// float32 in memory and fed to the model directly, with no temporary files
// and no subprocesses. The whisper.cpp static library (libwhisper.a) and
// headers must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// Models are ggml files. A model may be named by file path or by short name
// ("base", "small", ...), which resolves to "<models_dir>/ggml-<name>.bin".
// The model file is loaded lazily on first use and swapped lazily after
// SwitchModel, so a switch never stalls the call that requested it.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/vocata-ai/vocata/pkg/audio"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Transcriber = (*Adapter)(nil)

const (
	defaultLanguage   = "de"
	defaultSampleRate = 16000

	modelPrefix = "ggml-"
	modelSuffix = ".bin"
)

// ErrUnknownModel is returned by SwitchModel for names that resolve to no
// model file on disk.
var ErrUnknownModel = errors.New("whisper: unknown model")

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithLanguage sets the default transcription language. Defaults to "de".
func WithLanguage(lang string) Option {
	return func(a *Adapter) { a.language = lang }
}

// WithModelsDir sets the directory scanned for ggml model files. Defaults to
// "models".
func WithModelsDir(dir string) Option {
	return func(a *Adapter) { a.modelsDir = dir }
}

// WithGPU records whether inference is expected to run on a GPU. The bindings
// pick the device at load time; this flag only feeds the discovery surface.
func WithGPU(gpu bool) Option {
	return func(a *Adapter) { a.gpu = gpu }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// Adapter implements stt.Transcriber on top of the whisper.cpp bindings.
// It is safe for concurrent use: the loaded model is shared, and every
// Transcribe call creates its own whisper context (contexts are not
// thread-safe, models are).
type Adapter struct {
	modelsDir string
	language  string
	gpu       bool
	logger    *slog.Logger

	mu      sync.Mutex
	model   whisperlib.Model // nil until first use
	current string           // name of the loaded model
	pending string           // name to load on next Transcribe
	closed  bool
}

// New creates an Adapter that will serve the named model. name may be a short
// model name or a path to a ggml file. The model file is not touched until
// the first Transcribe call.
func New(name string, opts ...Option) (*Adapter, error) {
	if name == "" {
		return nil, errors.New("whisper: model name must not be empty")
	}
	a := &Adapter{
		modelsDir: "models",
		language:  defaultLanguage,
		logger:    slog.Default(),
		pending:   name,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Transcribe runs whisper.cpp inference over a complete PCM16 mono 16 kHz
// utterance. Inference itself is not interruptible; cancellation via ctx
// returns early while the inference goroutine runs to completion and discards
// its result.
func (a *Adapter) Transcribe(ctx context.Context, pcm []byte, opts stt.Options) (*stt.Utterance, error) {
	if len(pcm) == 0 {
		return nil, errors.New("whisper: empty audio buffer")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, name, err := a.activeModel()
	if err != nil {
		return nil, err
	}

	lang := opts.Language
	if lang == "" {
		lang = a.language
	}

	samples := audio.BytesToFloat32(pcm)
	durationMS := int(audio.Duration(pcm, defaultSampleRate) / time.Millisecond)

	type result struct {
		text string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		text, err := infer(model, samples, lang, opts.OnInterim)
		resCh <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return nil, res.err
		}
		return &stt.Utterance{
			Text:            res.text,
			Language:        lang,
			Model:           name,
			AudioDurationMS: durationMS,
		}, nil
	}
}

// Models scans the models directory for ggml files and reports the active
// model and device.
func (a *Adapter) Models(_ context.Context) (*stt.ModelList, error) {
	names, err := scanModels(a.modelsDir)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	current := a.pending
	if current == "" {
		current = a.current
	}
	gpu := a.gpu
	a.mu.Unlock()

	return &stt.ModelList{Models: names, Current: current, GPU: gpu}, nil
}

// SwitchModel schedules a model change. The name must resolve to an existing
// ggml file; loading happens on the next Transcribe call.
func (a *Adapter) SwitchModel(name string) error {
	path := a.resolvePath(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %q (%s)", ErrUnknownModel, name, path)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("whisper: adapter is closed")
	}
	if name == a.current {
		a.pending = ""
		return nil
	}
	a.pending = name
	a.logger.Info("stt model switch scheduled", "model", name)
	return nil
}

// Close releases the loaded model.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.model != nil {
		err := a.model.Close()
		a.model = nil
		return err
	}
	return nil
}

// activeModel returns the model to run inference on, performing a pending
// lazy load or swap under the lock.
func (a *Adapter) activeModel() (whisperlib.Model, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, "", errors.New("whisper: adapter is closed")
	}
	if a.pending == "" {
		return a.model, a.current, nil
	}

	path := a.resolvePath(a.pending)
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	if a.model != nil {
		if err := a.model.Close(); err != nil {
			a.logger.Warn("closing previous stt model failed", "model", a.current, "error", err)
		}
	}
	a.logger.Info("stt model loaded", "model", a.pending, "path", path)
	a.model = model
	a.current = a.pending
	a.pending = ""
	return a.model, a.current, nil
}

// resolvePath maps a model name to its file path. Anything that looks like a
// path (contains a separator or the ggml suffix) is used as-is.
func (a *Adapter) resolvePath(name string) string {
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasSuffix(name, modelSuffix) {
		return name
	}
	return filepath.Join(a.modelsDir, modelPrefix+name+modelSuffix)
}

// infer runs one whisper.cpp inference on a fresh context. Each context is
// not thread-safe; the model is shared.
func infer(model whisperlib.Model, samples []float32, lang string, onInterim func(string)) (string, error) {
	if model == nil {
		return "", errors.New("whisper: no model loaded")
	}

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "error", err)
	}

	var segCb whisperlib.SegmentCallback
	if onInterim != nil {
		var sofar []string
		segCb = func(seg whisperlib.Segment) {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				return
			}
			sofar = append(sofar, text)
			onInterim(strings.Join(sofar, " "))
		}
	}

	if err := wctx.Process(samples, nil, segCb, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// scanModels lists the short names of all ggml model files under dir, sorted.
// A missing directory yields an empty list, not an error.
func scanModels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("whisper: scan models dir %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.HasPrefix(n, modelPrefix) || !strings.HasSuffix(n, modelSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(n, modelPrefix), modelSuffix))
	}
	sort.Strings(names)
	return names, nil
}
