package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vocata-ai/vocata/internal/ingest"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/internal/router"
	"github.com/vocata-ai/vocata/internal/stagedtts"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
)

// HandleAudioFrame forwards one PCM frame to the active stream. Used by both
// the JSON audio_chunk path and the binary v2 path; an empty payload is the
// end sentinel. Frames for unknown streams are dropped and counted.
func (s *Session) HandleAudioFrame(streamID string, seq uint32, pcm []byte) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil || stream.ID() != streamID {
		s.metrics.RecordDropped(s.ctx, "unknown_stream")
		return
	}
	if err := stream.Push(seq, pcm); err != nil {
		switch {
		case errors.Is(err, ingest.ErrStaleSequence):
			// Already counted by ingest; replays are not client-visible.
		case errors.Is(err, ingest.ErrClosed):
			s.metrics.RecordDropped(s.ctx, "stream_finalized")
		}
	}
}

// onStreamDone is the ingest finalize callback; runs on the stream's
// goroutine exactly once per stream.
func (s *Session) onStreamDone(streamID string, pcm []byte, reason string, duration time.Duration) {
	s.mu.Lock()
	if s.stream != nil && s.stream.ID() == streamID {
		s.stream = nil
		if s.state == StateStreaming {
			s.state = StateIdle
		}
	}
	s.mu.Unlock()
	s.metrics.ActiveStreams.Add(s.ctx, -1)

	s.Emit(protocol.AudioStreamEnded{
		Type:     protocol.TypeAudioStreamEnded,
		StreamID: streamID,
		Reason:   reason,
		Duration: duration.Milliseconds(),
	})

	if reason == protocol.EndReasonSession || len(pcm) == 0 {
		return
	}
	s.guard(func() { s.transcribeAndRespond(streamID, pcm) })
}

// transcribeAndRespond runs the voice pipeline for one finished utterance:
// STT, intent resolution, and staged synthesis. Serialized per session.
func (s *Session) transcribeAndRespond(streamID string, pcm []byte) {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()

	s.mu.Lock()
	language := s.set.language
	interim := s.features.InterimTranscripts
	s.mu.Unlock()

	opts := stt.Options{Language: language, StreamID: streamID}
	if interim {
		opts.OnInterim = func(text string) {
			s.Emit(protocol.InterimTranscript{
				Type:     protocol.TypeInterimTranscript,
				StreamID: streamID,
				Text:     text,
			})
		}
	}

	utt, err := s.deps.STT.Transcribe(s.ctx, pcm, opts)
	if err != nil {
		s.logger.Warn("transcription failed", "stream_id", streamID, "error", err)
		s.sendError(protocol.ErrSTTFailed, "transcription failed")
		return
	}
	if utt.Text == "" {
		s.logger.Debug("empty transcript, nothing to route", "stream_id", streamID)
		return
	}

	s.Emit(protocol.FinalTranscript{
		Type:     protocol.TypeFinalTranscript,
		StreamID: streamID,
		Text:     utt.Text,
		Language: utt.Language,
	})
	s.respondLocked(utt.Text)
}

// handleText is the STT bypass: route typed input directly.
func (s *Session) handleText(text string) {
	if text == "" {
		s.sendError(protocol.ErrInvalidMessage, "text content is empty")
		return
	}
	s.guard(func() {
		s.pipelineMu.Lock()
		defer s.pipelineMu.Unlock()
		s.respondLocked(text)
	})
}

// respondLocked routes one utterance and speaks the reply. Caller holds
// pipelineMu.
func (s *Session) respondLocked(text string) {
	s.mu.Lock()
	language := s.set.language
	llmOpts := router.LLMOptions{
		Model:        s.set.llmModel,
		Temperature:  s.set.llmTemp,
		MaxTokens:    s.set.llmMaxTokens,
		SystemPrompt: s.set.systemPrompt,
		History:      append([]llm.Turn(nil), s.history...),
	}
	s.mu.Unlock()

	result := s.deps.Router.Route(s.ctx, text, language, llmOpts)
	if result.RoutingFailed {
		s.sendError(protocol.ErrRoutingFailed, "external backend unavailable, degraded reply")
	}
	if result.Reply == "" {
		return
	}

	s.Emit(protocol.Response{
		Type:    protocol.TypeResponse,
		Content: result.Reply,
		Source:  result.Source,
	})

	s.mu.Lock()
	s.history = append(s.history,
		llm.Turn{Role: llm.RoleUser, Content: text},
		llm.Turn{Role: llm.RoleAssistant, Content: result.Reply},
	)
	s.trimHistoryLocked()
	req := stagedtts.Request{
		SequenceID: uuid.NewString(),
		Text:       result.Reply,
		Voice:      s.set.ttsVoice,
		Language:   language,
		Speed:      s.set.speed,
		Engine:     s.set.ttsEngine,
		Settings:   s.set.staged,
	}
	s.mu.Unlock()

	if err := s.deps.TTS.Speak(s.ctx, req, &seqSink{s: s}); err != nil {
		if errors.Is(err, stagedtts.ErrEngineUnavailable) {
			s.sendError(protocol.ErrTTSEngineUnavailable, "no tts engine available")
		}
	}
}

// seqSink bridges orchestrator events into the session's outbound queue.
type seqSink struct {
	s *Session
}

var _ stagedtts.Sink = (*seqSink)(nil)

// Chunk enqueues one audio chunk. A queue stall aborts the sequence; the
// orchestrator then closes it early with a failure marker.
func (k *seqSink) Chunk(chunk protocol.TTSChunk) error {
	if !k.s.Emit(chunk) {
		return errors.New("session: outbound queue rejected audio chunk")
	}
	k.s.metrics.FramesOut.Add(k.s.ctx, 1)
	return nil
}

// End enqueues the sequence terminator.
func (k *seqSink) End(end protocol.TTSSequenceEnd) {
	k.s.Emit(end)
}
