// Package stagedtts turns reply text into an ordered sequence of audio
// chunks with minimal time-to-first-audio: a fast engine speaks a short intro
// while a higher-quality engine synthesizes the body in parallel. Chunks are
// emitted strictly by ascending index regardless of completion order, and
// every sequence terminates with exactly one tts_sequence_end, failure or
// not.
package stagedtts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// DefaultChunkTimeout is the per-chunk synthesis deadline when none is
// configured.
const DefaultChunkTimeout = 10 * time.Second

// ErrEngineUnavailable reports that no engine could be resolved for a
// sequence; the sequence ends with zero chunks.
var ErrEngineUnavailable = errors.New("stagedtts: no tts engine available")

// Sink receives the ordered events of one sequence. Implemented by the
// session's outbound queue.
type Sink interface {
	// Chunk delivers one audio chunk. An error aborts the sequence early
	// (backpressure policy); the end event still follows.
	Chunk(chunk protocol.TTSChunk) error

	// End delivers the terminating event. Called exactly once per sequence.
	End(end protocol.TTSSequenceEnd)
}

// Request describes one reply to speak.
type Request struct {
	// SequenceID identifies the sequence in all emitted events.
	SequenceID string

	// Text is the reply to synthesize; sanitized by the orchestrator.
	Text string

	// Voice and Language select the synthesis voice.
	Voice    string
	Language string

	// Speed is the speaking rate (1.0 = default).
	Speed float64

	// Engine is the session's selected engine for non-staged synthesis
	// ("auto" resolves against availability).
	Engine string

	// Settings is the session's staged-synthesis configuration.
	Settings config.StagedConfig
}

// Option is a functional option for configuring an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator plans, synthesizes, and emits TTS sequences. Safe for
// concurrent use; sequences of different sessions run independently.
type Orchestrator struct {
	registry *EngineRegistry
	cache    *Cache
	post     PostProcessor
	logger   *slog.Logger
	metrics  *observe.Metrics

	fallbacks atomic.Uint64
	sequences atomic.Uint64
}

// New creates an Orchestrator. cache may be nil to disable fingerprint
// caching globally.
func New(registry *EngineRegistry, cache *Cache, post PostProcessor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		cache:    cache,
		post:     post,
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
	}
	for _, op := range opts {
		op(o)
	}
	o.logger = o.logger.With("component", "stagedtts")
	return o
}

// chunkJob is one planned chunk with its engine track.
type chunkJob struct {
	index    int
	text     string
	engine   string
	fallback string
	intro    bool
}

// chunkResult is one finished chunk, successful or not.
type chunkResult struct {
	pcm    []byte
	rate   int
	engine string
	ok     bool
}

// Speak runs one sequence to completion. It blocks until the end event is
// emitted; callers run it on its own goroutine. The returned error is
// ErrEngineUnavailable when no engine resolved (the end event is still
// emitted); other errors are nil — chunk-level failures are reported in-band.
func (o *Orchestrator) Speak(ctx context.Context, req Request, sink Sink) error {
	cfg := withSettingsDefaults(req.Settings)
	text := Sanitize(req.Text)

	plan, jobs, err := o.plan(text, req, cfg)
	if err != nil {
		sink.End(protocol.TTSSequenceEnd{
			Type:       protocol.TypeTTSSequenceEnd,
			SequenceID: req.SequenceID,
			Chunks:     0,
			Success:    false,
		})
		o.sequences.Add(1)
		o.metrics.RecordSequence(ctx, "failed")
		return err
	}

	total := plan.Total()
	if total == 0 {
		sink.End(protocol.TTSSequenceEnd{
			Type:       protocol.TypeTTSSequenceEnd,
			SequenceID: req.SequenceID,
			Chunks:     0,
			Success:    true,
		})
		o.sequences.Add(1)
		o.metrics.RecordSequence(ctx, "completed")
		return nil
	}

	seqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan chunkResult, total)
	for i := range results {
		results[i] = make(chan chunkResult, 1)
	}

	g := new(errgroup.Group)
	for _, job := range jobs {
		g.Go(func() error {
			jobCtx := seqCtx
			if job.intro {
				// The intro completes even when the sequence is cancelled
				// mid-flight; its result is simply discarded.
				jobCtx = context.WithoutCancel(seqCtx)
			}
			results[job.index] <- o.produce(jobCtx, job, req, cfg)
			return nil
		})
	}

	emitted := 0
	success := true
emit:
	for next := 0; next < total; next++ {
		var res chunkResult
		select {
		case res = <-results[next]:
		case <-seqCtx.Done():
			success = false
			break emit
		}

		chunk := protocol.TTSChunk{
			Type:        protocol.TypeTTSChunk,
			SequenceID:  req.SequenceID,
			Index:       next,
			Total:       total,
			Engine:      res.engine,
			Text:        textOf(plan, next),
			Audio:       res.pcm,
			SampleRate:  res.rate,
			CrossfadeMS: cfg.CrossfadeMS,
			Success:     res.ok,
		}
		if err := sink.Chunk(chunk); err != nil {
			o.logger.Warn("chunk delivery failed, closing sequence early",
				"sequence_id", req.SequenceID, "index", next, "error", err)
			success = false
			break emit
		}
		emitted++
		if !res.ok {
			success = false
		}
	}

	cancel()

	// The end event is not delayed behind a still-running intro synthesis;
	// producers only write to their buffered result slots.
	sink.End(protocol.TTSSequenceEnd{
		Type:       protocol.TypeTTSSequenceEnd,
		SequenceID: req.SequenceID,
		Chunks:     emitted,
		Success:    success && emitted == total,
	})

	o.sequences.Add(1)
	status := "completed"
	if !success || emitted != total {
		status = "failed"
	}
	o.metrics.RecordSequence(ctx, status)

	g.Wait()
	return nil
}

// plan resolves engines and chunks the text. Staging degrades to a
// monolithic plan when disabled, when only one engine resolves, or when both
// slots resolve to the same engine.
func (o *Orchestrator) plan(text string, req Request, cfg config.StagedConfig) (Plan, []chunkJob, error) {
	chunker := Chunker{
		MaxResponse: cfg.MaxResponseLength,
		MaxIntro:    cfg.MaxIntroLength,
		MinChunk:    cfg.MinChunkLength,
		MaxChunk:    cfg.MaxChunkLength,
		MaxChunks:   cfg.MaxChunks,
	}

	if !cfg.Enabled {
		name, _, err := o.registry.Resolve(req.Engine, DefaultMainEngine, req.Voice)
		if err != nil {
			return Plan{}, nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		plan := chunker.SplitMonolithic(text)
		return plan, monolithicJobs(plan, name), nil
	}

	introName, _, introErr := o.registry.Resolve(string(cfg.IntroEngine), DefaultIntroEngine, req.Voice)
	mainName, _, mainErr := o.registry.Resolve(string(cfg.MainEngine), DefaultMainEngine, req.Voice)

	switch {
	case introErr != nil && mainErr != nil:
		return Plan{}, nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, mainErr)
	case introErr != nil:
		// Intro slot empty: the main engine serves the whole sequence.
		plan := chunker.SplitMonolithic(text)
		return plan, monolithicJobs(plan, mainName), nil
	case mainErr != nil:
		plan := chunker.SplitMonolithic(text)
		return plan, monolithicJobs(plan, introName), nil
	case introName == mainName:
		plan := chunker.SplitMonolithic(text)
		return plan, monolithicJobs(plan, mainName), nil
	}

	plan := chunker.Split(text)
	jobs := make([]chunkJob, 0, plan.Total())
	if plan.Intro != "" {
		// The intro is never retried on the main engine; a failed intro is
		// reported in band and the body continues on the main engine.
		jobs = append(jobs, chunkJob{
			index: 0, text: plan.Intro,
			engine: introName, intro: true,
		})
	}
	for i, body := range plan.Body {
		jobs = append(jobs, chunkJob{
			index: i + 1, text: body,
			engine: mainName, fallback: introName,
		})
	}
	return plan, jobs, nil
}

// monolithicJobs maps every chunk of a staging-free plan onto one engine.
func monolithicJobs(plan Plan, engine string) []chunkJob {
	jobs := make([]chunkJob, len(plan.Body))
	for i, body := range plan.Body {
		jobs[i] = chunkJob{index: i, text: body, engine: engine}
	}
	return jobs
}

// produce synthesizes one chunk: primary engine under the per-chunk deadline,
// one degraded retry on the fallback engine, then an explicit failure chunk.
func (o *Orchestrator) produce(ctx context.Context, job chunkJob, req Request, cfg config.StagedConfig) chunkResult {
	timeout := cfg.ChunkTimeout
	if timeout <= 0 {
		timeout = DefaultChunkTimeout
	}

	res, err := o.synthesize(ctx, job.engine, job.text, req, cfg, timeout)
	if err == nil {
		return chunkResult{pcm: res.PCM, rate: res.SampleRate, engine: job.engine, ok: true}
	}
	o.logger.Warn("chunk synthesis failed",
		"sequence_id", req.SequenceID, "index", job.index,
		"engine", job.engine, "error", err)

	if job.fallback != "" && job.fallback != job.engine {
		o.fallbacks.Add(1)
		o.metrics.Fallbacks.Add(ctx, 1)
		res, err = o.synthesize(ctx, job.fallback, job.text, req, cfg, timeout)
		if err == nil {
			return chunkResult{pcm: res.PCM, rate: res.SampleRate, engine: job.fallback, ok: true}
		}
		o.logger.Warn("fallback synthesis failed",
			"sequence_id", req.SequenceID, "index", job.index,
			"engine", job.fallback, "error", err)
	}

	return chunkResult{engine: job.engine, ok: false}
}

// synthesize runs one engine attempt through the fingerprint cache, with
// post-processing applied before the result is cached.
func (o *Orchestrator) synthesize(ctx context.Context, engineName, text string, req Request, cfg config.StagedConfig, timeout time.Duration) (*tts.Result, error) {
	engine, err := o.registry.Engine(engineName)
	if err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	synth := func() (*tts.Result, error) {
		res, err := engine.Synthesize(attemptCtx, tts.Request{
			Text:     text,
			Voice:    req.Voice,
			Language: req.Language,
			Speed:    req.Speed,
		})
		if err != nil {
			return nil, err
		}
		pcm, rate := o.post.Process(res.PCM, res.SampleRate)
		return &tts.Result{PCM: pcm, SampleRate: rate}, nil
	}

	var res *tts.Result
	if o.cache != nil && cfg.EnableCaching {
		fp := Fingerprint(engineName, req.Voice, req.Language, req.Speed, text)
		res, _, err = o.cache.GetOrSynthesize(attemptCtx, fp, synth)
	} else {
		res, err = synth()
	}
	if err != nil {
		return nil, err
	}
	o.metrics.RecordChunk(ctx, engineName, time.Since(start).Seconds())
	return res, nil
}

// ClearCache drops all cached synthesis results.
func (o *Orchestrator) ClearCache() {
	if o.cache != nil {
		o.cache.Clear()
	}
}

// Stats summarizes cache and fallback counters for the stats surface.
func (o *Orchestrator) Stats() (hits, misses uint64, entries int, fallbacks, sequences uint64) {
	if o.cache != nil {
		hits, misses, entries = o.cache.Stats()
	}
	return hits, misses, entries, o.fallbacks.Load(), o.sequences.Load()
}

// Registry exposes the engine registry for discovery and health surfaces.
func (o *Orchestrator) Registry() *EngineRegistry { return o.registry }

// textOf returns the chunk text at index for a plan.
func textOf(plan Plan, index int) string {
	if plan.Intro != "" {
		if index == 0 {
			return plan.Intro
		}
		return plan.Body[index-1]
	}
	return plan.Body[index]
}

// withSettingsDefaults fills zero fields from the compiled defaults so a
// partially patched per-session config stays sane.
func withSettingsDefaults(cfg config.StagedConfig) config.StagedConfig {
	def := config.Default().Staged
	if cfg.MaxResponseLength <= 0 {
		cfg.MaxResponseLength = def.MaxResponseLength
	}
	if cfg.MaxIntroLength <= 0 {
		cfg.MaxIntroLength = def.MaxIntroLength
	}
	if cfg.MinChunkLength <= 0 {
		cfg.MinChunkLength = def.MinChunkLength
	}
	if cfg.MaxChunkLength <= 0 {
		cfg.MaxChunkLength = def.MaxChunkLength
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = def.MaxChunks
	}
	if cfg.CrossfadeMS <= 0 {
		cfg.CrossfadeMS = def.CrossfadeMS
	}
	return cfg
}
