// Package ingest accumulates PCM16 audio frames for active streams and
// decides when an utterance is complete. Three termination policies run per
// stream: an explicit end from the client, RMS-based silence detection (VAD),
// and a hard wall-clock bound. Finalization hands the immutable buffer to the
// finalize callback (transcription) exactly once.
//
// Each stream runs one consumer goroutine fed by a bounded frame queue; when
// the queue is full the oldest unprocessed frame is dropped, preferring
// real-time behaviour over completeness.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/pkg/audio"
)

// SampleRate is the ingest sample rate; clients send PCM16 mono at 16 kHz.
const SampleRate = 16000

// Queue and VAD defaults, overridable via configuration.
const (
	DefaultQueueSize     = 100
	DefaultVADThreshold  = 0.015
	DefaultSilenceWindow = 1500 * time.Millisecond
	DefaultMaxDuration   = 30 * time.Second
)

// ErrClosed is returned for frames pushed after finalization.
var ErrClosed = errors.New("ingest: stream is finalized")

// ErrStaleSequence is returned for frames whose sequence number does not
// advance past the last accepted one.
var ErrStaleSequence = errors.New("ingest: stale sequence number")

// FinalizeFunc receives the finished utterance. pcm may be empty when no
// voiced frame arrived. Called exactly once, from the stream goroutine.
type FinalizeFunc func(streamID string, pcm []byte, reason string, duration time.Duration)

// Config tunes one stream.
type Config struct {
	// QueueSize bounds the inbound frame queue (drop-oldest on overflow).
	QueueSize int

	// VADEnabled turns on silence-based auto-finalization.
	VADEnabled bool

	// VADThreshold is the normalized RMS level below which a frame counts as
	// silence.
	VADThreshold float64

	// SilenceWindow is the silence span (after speech) that finalizes.
	SilenceWindow time.Duration

	// MaxDuration force-finalizes any stream exceeding it, measured from the
	// first accepted frame.
	MaxDuration time.Duration

	// NoiseGate, when true, zeroes sub-threshold frames in the buffer
	// instead of transcribing background hiss.
	NoiseGate bool
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = DefaultSilenceWindow
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

// frame is one queued audio frame.
type frame struct {
	seq uint32
	pcm []byte
}

// Stream ingests frames for one audio stream. Push is called by the
// transport reader; the consumer goroutine owns all buffering and VAD state.
type Stream struct {
	id       string
	cfg      Config
	finalize FinalizeFunc
	logger   *slog.Logger
	metrics  *observe.Metrics

	mu      sync.Mutex
	queue   chan frame
	lastSeq uint32
	hasSeq  bool
	closed  bool
	reason  string

	done chan struct{}
	wg   sync.WaitGroup
}

// Option is a functional option for configuring a Stream.
type Option func(*Stream)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) { s.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Stream) { s.metrics = m }
}

// NewStream creates a Stream and starts its consumer goroutine. finalize is
// invoked exactly once when the stream ends.
func NewStream(id string, cfg Config, finalize FinalizeFunc, opts ...Option) *Stream {
	cfg = cfg.withDefaults()
	s := &Stream{
		id:       id,
		cfg:      cfg,
		finalize: finalize,
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
		queue:    make(chan frame, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "ingest", "stream_id", id)

	s.wg.Add(1)
	go s.consume()
	return s
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Push enqueues one frame. Sequence numbers must be strictly ascending;
// stale frames are rejected and counted. An empty pcm payload is the end
// sentinel. On queue overflow the oldest unprocessed frame is dropped.
func (s *Stream) Push(seq uint32, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if len(pcm) > 0 {
		if s.hasSeq && seq <= s.lastSeq {
			s.mu.Unlock()
			s.metrics.RecordDropped(context.Background(), "stale_sequence")
			return ErrStaleSequence
		}
		s.lastSeq = seq
		s.hasSeq = true
	}
	s.mu.Unlock()

	f := frame{seq: seq, pcm: pcm}
	for {
		select {
		case s.queue <- f:
			return nil
		case <-s.done:
			return ErrClosed
		default:
		}
		// Queue full: drop the oldest unprocessed frame and retry.
		select {
		case <-s.queue:
			s.metrics.RecordDropped(context.Background(), "overflow")
			s.logger.Debug("frame queue overflow, dropped oldest")
		case <-s.done:
			return ErrClosed
		default:
		}
	}
}

// End requests explicit finalization (client end or session close). Safe to
// call multiple times; only the first wins.
func (s *Stream) End(reason string) {
	s.endOnce(reason)
}

// Close finalizes with the session-closed reason and waits for the consumer
// to finish.
func (s *Stream) Close() {
	s.endOnce(protocol.EndReasonSession)
	s.wg.Wait()
}

// endOnce marks the stream closed and wakes the consumer.
func (s *Stream) endOnce(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.reason = reason
	s.mu.Unlock()

	select {
	case s.queue <- frame{pcm: nil}: // end sentinel
	default:
	}
	close(s.done)
}

// consume is the single goroutine owning buffer and VAD state.
func (s *Stream) consume() {
	defer s.wg.Done()

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
		started   time.Time
		deadline  <-chan time.Time
	)

	finish := func(reason string) {
		var duration time.Duration
		if !started.IsZero() {
			duration = time.Since(started)
		}
		s.markClosed()
		s.finalize(s.id, buffer, reason, duration)
	}

	for {
		select {
		case <-deadline:
			finish(protocol.EndReasonMaxDuration)
			return

		case f := <-s.queue:
			if len(f.pcm) == 0 {
				finish(s.endReason())
				return
			}
			if started.IsZero() {
				started = time.Now()
				timer := time.NewTimer(s.cfg.MaxDuration)
				defer timer.Stop()
				deadline = timer.C
			}

			s.metrics.FramesIn.Add(context.Background(), 1)
			level := audio.RMS(f.pcm)
			frameDur := audio.Duration(f.pcm, SampleRate)

			voiced := level >= s.cfg.VADThreshold
			if s.cfg.NoiseGate && !voiced {
				f.pcm = make([]byte, len(f.pcm))
			}
			buffer = append(buffer, f.pcm...)

			if !s.cfg.VADEnabled {
				continue
			}
			if voiced {
				hadSpeech = true
				silence = 0
				continue
			}
			if hadSpeech {
				silence += frameDur
				if silence >= s.cfg.SilenceWindow {
					finish(protocol.EndReasonVAD)
					return
				}
			}

		case <-s.done:
			// Explicit end raced past the sentinel (full queue): drain what
			// is left, then finalize.
			for {
				select {
				case f := <-s.queue:
					if len(f.pcm) > 0 {
						buffer = append(buffer, f.pcm...)
					}
				default:
					finish(s.endReason())
					return
				}
			}
		}
	}
}

// markClosed stops Push from accepting more frames.
func (s *Stream) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// endReason returns the reason recorded by endOnce, defaulting to "client".
func (s *Stream) endReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		return protocol.EndReasonClient
	}
	return s.reason
}
