// Package stt runs transcriptions on a bounded worker pool so CPU-heavy model
// inference never blocks a session loop or the accept loop. The pool is a
// buffered-channel semaphore in front of a shared stt.Transcriber.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 2

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("stt: pool is closed")

// Option is a functional option for configuring a Pool.
type Option func(*Pool)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// Pool serializes access to a Transcriber through a fixed number of worker
// slots. Safe for concurrent use.
type Pool struct {
	transcriber stt.Transcriber
	sem         chan struct{}
	done        chan struct{}
	logger      *slog.Logger
	metrics     *observe.Metrics
}

// NewPool creates a Pool with the given concurrency. workers <= 0 selects
// DefaultWorkers.
func NewPool(transcriber stt.Transcriber, workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	p := &Pool{
		transcriber: transcriber,
		sem:         make(chan struct{}, workers),
		done:        make(chan struct{}),
		logger:      slog.Default(),
		metrics:     observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("component", "stt-pool")
	return p
}

// Transcribe acquires a worker slot, runs the transcription, and releases the
// slot. Blocks while all slots are busy; honours ctx while waiting and while
// transcribing.
func (p *Pool) Transcribe(ctx context.Context, pcm []byte, opts stt.Options) (*stt.Utterance, error) {
	select {
	case p.sem <- struct{}{}:
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("stt: waiting for worker: %w", ctx.Err())
	}
	defer func() { <-p.sem }()

	start := time.Now()
	utt, err := p.transcriber.Transcribe(ctx, pcm, opts)
	elapsed := time.Since(start)
	p.metrics.STTDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		return nil, err
	}

	p.logger.Debug("transcription done",
		"stream_id", opts.StreamID,
		"model", utt.Model,
		"audio_ms", utt.AudioDurationMS,
		"took", elapsed)
	return utt, nil
}

// Models delegates to the underlying transcriber.
func (p *Pool) Models(ctx context.Context) (*stt.ModelList, error) {
	return p.transcriber.Models(ctx)
}

// SwitchModel delegates to the underlying transcriber.
func (p *Pool) SwitchModel(name string) error {
	return p.transcriber.SwitchModel(name)
}

// Responsive reports whether a worker slot can be acquired before ctx
// expires. Used as a health check: a pool wedged on stuck inferences fails.
func (p *Pool) Responsive(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		<-p.sem
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("stt: pool not responsive: %w", ctx.Err())
	}
}

// Close marks the pool closed and closes the transcriber. In-flight work is
// allowed to finish; new submissions fail with ErrClosed.
func (p *Pool) Close() error {
	select {
	case <-p.done:
		return nil
	default:
		close(p.done)
	}
	return p.transcriber.Close()
}
