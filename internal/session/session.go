// Package session owns the lifecycle of one connected client: the state
// machine from handshake to close, per-session settings, the audio stream
// registry, and the voice pipeline from finished utterance to spoken reply.
//
// The transport layer decodes frames and hands them to [Session.HandleControl]
// and [Session.HandleAudioFrame]; everything the session wants to say goes out
// through a bounded queue drained by the transport's write loop. A [Manager]
// tracks live sessions for metrics and shutdown fan-out.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/ingest"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/internal/router"
	"github.com/vocata-ai/vocata/internal/stagedtts"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// State is the session lifecycle phase.
type State int

const (
	// StateAuthed: the connection is authenticated but the hello handshake
	// has not completed yet.
	StateAuthed State = iota

	// StateReady: handshake done, no audio stream active.
	StateReady

	// StateStreaming: one audio stream is accepting frames.
	StateStreaming

	// StateIdle: a stream finished; the session waits for the next one.
	StateIdle

	// StateClosed is terminal.
	StateClosed
)

// String returns the lowercase state name for logs.
func (s State) String() string {
	switch s {
	case StateAuthed:
		return "authed"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SpeechToText is the transcription surface the session uses. Implemented by
// [github.com/vocata-ai/vocata/internal/stt.Pool].
type SpeechToText interface {
	Transcribe(ctx context.Context, pcm []byte, opts stt.Options) (*stt.Utterance, error)
	Models(ctx context.Context) (*stt.ModelList, error)
	SwitchModel(name string) error
}

// Intents resolves utterances to replies. Implemented by
// [github.com/vocata-ai/vocata/internal/router.Router].
type Intents interface {
	Route(ctx context.Context, query, language string, opts router.LLMOptions) router.Result
	Models(ctx context.Context) ([]string, error)
	Provider() string
}

// Speech synthesizes replies. Implemented by
// [github.com/vocata-ai/vocata/internal/stagedtts.Orchestrator].
type Speech interface {
	Speak(ctx context.Context, req stagedtts.Request, sink stagedtts.Sink) error
	ClearCache()
	Stats() (hits, misses uint64, entries int, fallbacks, sequences uint64)
	Registry() *stagedtts.EngineRegistry
}

// Deps are the pipeline components a session drives.
type Deps struct {
	STT    SpeechToText
	Router Intents
	TTS    Speech
}

// backpressureGrace is how long a critical outbound message may wait on a
// full queue before the session is declared stalled and closed.
const backpressureGrace = 500 * time.Millisecond

// DefaultOutboundQueue bounds the outbound message queue when the server
// config leaves it unset.
const DefaultOutboundQueue = 256

// settings are the per-session mutable knobs, adjusted via control messages.
// A copy of the relevant parts is snapshotted per pipeline run.
type settings struct {
	ttsEngine string
	ttsVoice  string
	speed     float64
	volume    float64
	language  string

	staged config.StagedConfig

	vadEnabled bool
	noiseGate  bool
	silenceMS  int

	llmModel     string
	llmTemp      float64
	llmMaxTokens int
	contextTurns int
	systemPrompt string
}

// Session is one connected client.
type Session struct {
	id      string
	cfg     *config.Config
	deps    Deps
	logger  *slog.Logger
	metrics *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	out  chan any
	done chan struct{}

	mu       sync.Mutex
	state    State
	features protocol.Features
	stream   *ingest.Stream
	set      settings
	history  []llm.Turn
	closeSt  closeStatus

	// pipelineMu serializes utterance handling so replies of one session
	// never interleave.
	pipelineMu sync.Mutex

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// closeStatus records how the session ended, for the transport's close frame.
type closeStatus struct {
	code   int
	reason string
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// New creates a session in state Authed; the transport has already validated
// the client's token when this is called.
func New(id string, cfg *config.Config, deps Deps, opts ...Option) *Session {
	queue := cfg.Server.OutboundQueue
	if queue <= 0 {
		queue = DefaultOutboundQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
		ctx:     ctx,
		cancel:  cancel,
		out:     make(chan any, queue),
		done:    make(chan struct{}),
		state:   StateAuthed,
		set: settings{
			ttsEngine:    string(cfg.TTS.Engine),
			ttsVoice:     cfg.TTS.Voice,
			speed:        1.0,
			volume:       1.0,
			language:     cfg.STT.Language,
			staged:       cfg.Staged,
			vadEnabled:   cfg.Ingest.VADEnabled,
			silenceMS:    cfg.Ingest.VADSilenceMS,
			llmModel:     cfg.LLM.Model,
			llmTemp:      cfg.LLM.Temperature,
			llmMaxTokens: cfg.LLM.MaxTokens,
			contextTurns: cfg.LLM.ContextTurns,
			systemPrompt: cfg.LLM.SystemPrompt,
		},
		closeSt: closeStatus{code: protocol.CloseNormal, reason: "session closed"},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "session", "session_id", id)
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Features returns the negotiated capability set; zero before the handshake.
func (s *Session) Features() protocol.Features {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

// Outbound is the queue the transport's write loop drains. The channel is
// never closed; use Done to detect the end of the session.
func (s *Session) Outbound() <-chan any { return s.out }

// Done is closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// CloseStatus reports the close code and reason the transport should put on
// the close frame. Meaningful after Done is closed.
func (s *Session) CloseStatus() (code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeSt.code, s.closeSt.reason
}

// Close terminates the session with a normal close code.
func (s *Session) Close() {
	s.close(protocol.CloseNormal, "session closed")
}

// CloseWithStatus terminates the session with the given close frame.
func (s *Session) CloseWithStatus(code int, reason string) {
	s.close(code, reason)
}

func (s *Session) close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.closeSt = closeStatus{code: code, reason: reason}
		stream := s.stream
		s.stream = nil
		s.mu.Unlock()

		// The stream's finalize callback still runs and handles the gauge.
		if stream != nil {
			stream.End(protocol.EndReasonSession)
		}
		s.cancel()
		close(s.done)
		s.logger.Info("session closed", "code", code, "reason", reason)
	})
}

// Wait blocks until all pipeline goroutines have finished. Used by tests and
// by the manager during shutdown.
func (s *Session) Wait() { s.wg.Wait() }

// telemetry reports whether msg may be dropped under backpressure. Audio,
// replies, and errors are critical; acknowledgements and liveness chatter
// are not.
func telemetry(msg any) bool {
	switch msg.(type) {
	case protocol.Ready,
		protocol.AudioStreamStarted,
		protocol.AudioStreamEnded,
		protocol.FinalTranscript,
		protocol.Response,
		protocol.TTSChunk,
		protocol.TTSSequenceEnd,
		protocol.Error:
		return false
	}
	return true
}

// Emit enqueues one outbound message under the backpressure policy: when the
// queue is full, telemetry is dropped and counted; critical messages wait
// briefly, and a persistent stall closes the session. Reports whether the
// message was queued.
func (s *Session) Emit(msg any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
	}

	if telemetry(msg) {
		s.metrics.RecordDropped(s.ctx, "backpressure")
		s.logger.Debug("outbound queue full, dropped telemetry")
		return false
	}

	timer := time.NewTimer(backpressureGrace)
	defer timer.Stop()
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	case <-timer.C:
		s.overflow()
		return false
	}
}

// overflow handles a stalled client: make room for one final error message,
// then close cleanly.
func (s *Session) overflow() {
	s.metrics.RecordWireError(s.ctx, string(protocol.ErrBackpressure))
	s.logger.Warn("outbound queue stalled, closing session")
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- protocol.NewError(protocol.ErrBackpressure, "outbound queue overflow"):
	default:
	}
	s.close(protocol.CloseServerError, "backpressure")
}

// sendError emits a typed error and counts it.
func (s *Session) sendError(kind protocol.ErrorKind, message string) {
	s.metrics.RecordWireError(s.ctx, string(kind))
	s.Emit(protocol.NewError(kind, message))
}

// guard runs fn on a tracked goroutine with panic containment: a panic is
// converted to error{kind:fatal} and terminates this session only.
func (s *Session) guard(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recovered()
		fn()
	}()
}

// recovered is the deferred panic handler at every session goroutine
// boundary.
func (s *Session) recovered() {
	if r := recover(); r != nil {
		s.logger.Error("session panic", "panic", r)
		s.sendError(protocol.ErrFatal, "internal session error")
		s.close(protocol.CloseServerError, "internal error")
	}
}
