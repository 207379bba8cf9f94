package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/ingest"
	"github.com/vocata-ai/vocata/internal/protocol"
)

// HandleControl dispatches one decoded client message. Called from the
// transport's read loop; cheap operations are handled inline, the voice
// pipeline runs on its own goroutine so control never blocks audio.
func (s *Session) HandleControl(msg *protocol.ClientMessage) {
	defer s.recovered()

	kind := msg.Kind()
	if s.State() == StateClosed {
		return
	}
	if kind == protocol.TypeHello {
		s.handleHello(msg)
		return
	}
	if s.State() == StateAuthed {
		s.sendError(protocol.ErrInvalidMessage, "handshake required before "+kind)
		return
	}

	switch kind {
	case protocol.TypeStartAudioStream:
		s.handleStartStream(msg.StreamID)
	case protocol.TypeAudioChunk:
		s.HandleAudioFrame(msg.StreamID, msg.Sequence, msg.Chunk)
	case protocol.TypeEndAudioStream:
		s.handleEndStream(msg.StreamID)
	case protocol.TypeText:
		s.handleText(msg.Content)
	case protocol.TypePing:
		s.Emit(protocol.Pong{Type: protocol.TypePong, Timestamp: msg.Timestamp})
	case protocol.TypeSwitchTTSEngine:
		s.handleSwitchEngine(msg.Engine)
	case protocol.TypeSetTTSVoice:
		s.handleSetVoice(msg.Voice, msg.Engine)
	case protocol.TypeSetTTSOptions:
		s.handleTTSOptions(msg)
	case protocol.TypeSwitchSTTModel:
		s.handleSwitchSTTModel(msg.Model)
	case protocol.TypeSetAudioOpts:
		s.handleAudioOpts(msg)
	case protocol.TypeGetLLMModels:
		s.handleGetLLMModels()
	case protocol.TypeSwitchLLMModel:
		s.handleSwitchLLMModel(msg.Model)
	case protocol.TypeSetLLMOptions:
		s.handleLLMOptions(msg)
	case protocol.TypeStagedTTSControl:
		s.handleStagedControl(msg.Action, msg.Config)
	case protocol.TypeGetTTSInfo:
		s.handleGetTTSInfo()
	case protocol.TypeGetSTTModels:
		s.handleGetSTTModels()
	default:
		s.sendError(protocol.ErrInvalidMessage, "unknown message type "+kind)
	}
}

// handleHello completes the handshake. A second hello on a ready session is
// rejected without touching negotiated state.
func (s *Session) handleHello(msg *protocol.ClientMessage) {
	s.mu.Lock()
	if s.state != StateAuthed {
		s.mu.Unlock()
		s.sendError(protocol.ErrInvalidMessage, "handshake already completed")
		return
	}
	s.features = protocol.Features{
		BinaryAudio:        s.cfg.Server.BinaryAudio && msg.HasCapability(protocol.CapBinaryAudio),
		InterimTranscripts: s.cfg.Server.InterimTranscripts && msg.HasCapability(protocol.CapInterimTranscripts),
		VAD:                s.cfg.Ingest.VADEnabled && msg.HasCapability(protocol.CapVAD),
	}
	s.state = StateReady
	features := s.features
	s.mu.Unlock()

	s.logger.Info("handshake complete",
		"device", msg.Device,
		"binary_audio", features.BinaryAudio,
		"interim_transcripts", features.InterimTranscripts,
		"vad", features.VAD)
	s.Emit(protocol.NewReady(s.id, features))
}

// handleStartStream opens the session's audio stream. At most one stream is
// active at a time.
func (s *Session) handleStartStream(streamID string) {
	if streamID == "" {
		streamID = uuid.NewString()
	}

	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		s.sendError(protocol.ErrInvalidMessage, "audio stream already active")
		return
	}
	cfg := ingest.Config{
		QueueSize:     s.cfg.Ingest.FrameQueueSize,
		VADEnabled:    s.features.VAD && s.set.vadEnabled,
		VADThreshold:  s.cfg.Ingest.VADThreshold,
		SilenceWindow: time.Duration(s.set.silenceMS) * time.Millisecond,
		MaxDuration:   time.Duration(s.cfg.Ingest.MaxStreamSeconds) * time.Second,
		NoiseGate:     s.set.noiseGate,
	}
	stream := ingest.NewStream(streamID, cfg, s.onStreamDone,
		ingest.WithLogger(s.logger), ingest.WithMetrics(s.metrics))
	s.stream = stream
	s.state = StateStreaming
	s.mu.Unlock()

	s.metrics.ActiveStreams.Add(s.ctx, 1)
	s.Emit(protocol.AudioStreamStarted{Type: protocol.TypeAudioStreamStarted, StreamID: streamID})
}

// handleEndStream finalizes the active stream on explicit client request.
func (s *Session) handleEndStream(streamID string) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil || (streamID != "" && streamID != stream.ID()) {
		s.sendError(protocol.ErrInvalidMessage, "no such audio stream")
		return
	}
	stream.End(protocol.EndReasonClient)
}

func (s *Session) handleSwitchEngine(engine string) {
	if !config.Engine(engine).IsValid() {
		s.sendError(protocol.ErrInvalidMessage, "unknown tts engine "+engine)
		return
	}
	s.mu.Lock()
	s.set.ttsEngine = engine
	s.mu.Unlock()
	s.Emit(protocol.Ack{Type: protocol.TypeTTSEngineSwitched, Value: engine})
}

func (s *Session) handleSetVoice(voice, engine string) {
	if voice == "" {
		s.sendError(protocol.ErrInvalidMessage, "voice is required")
		return
	}
	if engine != "" && !config.Engine(engine).IsValid() {
		s.sendError(protocol.ErrInvalidMessage, "unknown tts engine "+engine)
		return
	}
	s.mu.Lock()
	s.set.ttsVoice = voice
	if engine != "" {
		s.set.ttsEngine = engine
	}
	s.mu.Unlock()
	s.Emit(protocol.Ack{Type: protocol.TypeTTSVoiceUpdated, Value: voice})
}

func (s *Session) handleTTSOptions(msg *protocol.ClientMessage) {
	s.mu.Lock()
	if msg.Speed != nil {
		s.set.speed = clampFloat(*msg.Speed, 0.5, 2.0)
	}
	if msg.Volume != nil {
		s.set.volume = clampFloat(*msg.Volume, 0.0, 2.0)
	}
	if msg.Language != "" {
		s.set.language = msg.Language
	}
	s.mu.Unlock()
	s.Emit(protocol.Ack{Type: protocol.TypeTTSOptionsUpdated})
}

// handleSwitchSTTModel schedules a whisper model change; the swap itself is
// applied lazily by the adapter before the next transcription.
func (s *Session) handleSwitchSTTModel(model string) {
	if err := s.deps.STT.SwitchModel(model); err != nil {
		s.sendError(protocol.ErrInvalidMessage, fmt.Sprintf("switch stt model: %v", err))
		return
	}
	s.Emit(protocol.Ack{Type: protocol.TypeSTTModelSwitched, Value: model})
}

func (s *Session) handleAudioOpts(msg *protocol.ClientMessage) {
	s.mu.Lock()
	if msg.VAD != nil {
		s.set.vadEnabled = *msg.VAD
	}
	if msg.NoiseSuppression != nil {
		s.set.noiseGate = *msg.NoiseSuppression
	}
	if msg.SilenceMS != nil && *msg.SilenceMS > 0 {
		s.set.silenceMS = *msg.SilenceMS
	}
	s.mu.Unlock()
	s.Emit(protocol.Ack{Type: protocol.TypeAudioOptsUpdated})
}

func (s *Session) handleGetLLMModels() {
	models, err := s.deps.Router.Models(s.ctx)
	if err != nil {
		s.logger.Warn("llm model discovery failed", "error", err)
	}
	s.mu.Lock()
	current := s.set.llmModel
	s.mu.Unlock()
	s.Emit(protocol.LLMModels{Type: protocol.TypeLLMModels, Models: models, Current: current})
}

// handleSwitchLLMModel selects a model and clears the conversation context;
// history gathered under one model does not leak into another.
func (s *Session) handleSwitchLLMModel(model string) {
	if model == "" {
		s.sendError(protocol.ErrInvalidMessage, "model is required")
		return
	}
	s.mu.Lock()
	s.set.llmModel = model
	s.history = nil
	s.mu.Unlock()
	s.Emit(protocol.Ack{Type: protocol.TypeLLMModelSwitched, Value: model})
}

func (s *Session) handleLLMOptions(msg *protocol.ClientMessage) {
	s.mu.Lock()
	if msg.Temperature != nil {
		s.set.llmTemp = clampFloat(*msg.Temperature, 0, 2)
	}
	if msg.MaxTokens != nil && *msg.MaxTokens > 0 {
		s.set.llmMaxTokens = *msg.MaxTokens
	}
	if msg.ContextTurns != nil && *msg.ContextTurns >= 0 {
		s.set.contextTurns = *msg.ContextTurns
		s.trimHistoryLocked()
	}
	if msg.SystemPrompt != nil {
		s.set.systemPrompt = *msg.SystemPrompt
	}
	s.mu.Unlock()
	s.Emit(protocol.Ack{Type: protocol.TypeLLMOptionsUpdated})
}

func (s *Session) handleStagedControl(action string, patch *protocol.StagedConfigPatch) {
	switch action {
	case protocol.StagedActionConfigure:
		if patch == nil {
			s.sendError(protocol.ErrInvalidMessage, "configure requires a config object")
			return
		}
		if err := s.applyStagedPatch(patch); err != nil {
			s.sendError(protocol.ErrInvalidMessage, err.Error())
			return
		}
		s.Emit(protocol.Ack{Type: protocol.TypeStagedTTSUpdated, Value: action})
	case protocol.StagedActionEnable, protocol.StagedActionDisable:
		s.mu.Lock()
		s.set.staged.Enabled = action == protocol.StagedActionEnable
		s.mu.Unlock()
		s.Emit(protocol.Ack{Type: protocol.TypeStagedTTSUpdated, Value: action})
	case protocol.StagedActionClearCache:
		s.deps.TTS.ClearCache()
		s.Emit(protocol.Ack{Type: protocol.TypeStagedTTSUpdated, Value: action})
	case protocol.StagedActionGetStats:
		s.Emit(s.stagedStats())
	default:
		s.sendError(protocol.ErrInvalidMessage, "unknown staged_tts_control action "+action)
	}
}

// applyStagedPatch merges a partial reconfiguration into the session's
// staged settings. The chunk bound is clamped to the server's forced ceiling.
func (s *Session) applyStagedPatch(patch *protocol.StagedConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.IntroEngine != nil && !config.Engine(*patch.IntroEngine).IsValid() {
		return fmt.Errorf("unknown intro engine %q", *patch.IntroEngine)
	}
	if patch.MainEngine != nil && !config.Engine(*patch.MainEngine).IsValid() {
		return fmt.Errorf("unknown main engine %q", *patch.MainEngine)
	}

	if patch.Enabled != nil {
		s.set.staged.Enabled = *patch.Enabled
	}
	if patch.MaxResponseLength != nil && *patch.MaxResponseLength > 0 {
		s.set.staged.MaxResponseLength = *patch.MaxResponseLength
	}
	if patch.MaxIntroLength != nil && *patch.MaxIntroLength > 0 {
		s.set.staged.MaxIntroLength = *patch.MaxIntroLength
	}
	if patch.ChunkTimeoutMS != nil && *patch.ChunkTimeoutMS > 0 {
		s.set.staged.ChunkTimeout = time.Duration(*patch.ChunkTimeoutMS) * time.Millisecond
	}
	if patch.MaxChunks != nil && *patch.MaxChunks > 0 {
		n := *patch.MaxChunks
		if ceil := s.cfg.Staged.MaxChunksForced; ceil > 0 && n > ceil {
			n = ceil
		}
		s.set.staged.MaxChunks = n
	}
	if patch.CrossfadeMS != nil && *patch.CrossfadeMS >= 0 {
		s.set.staged.CrossfadeMS = *patch.CrossfadeMS
	}
	if patch.IntroEngine != nil {
		s.set.staged.IntroEngine = config.Engine(*patch.IntroEngine)
	}
	if patch.MainEngine != nil {
		s.set.staged.MainEngine = config.Engine(*patch.MainEngine)
	}
	if patch.EnableCaching != nil {
		s.set.staged.EnableCaching = *patch.EnableCaching
	}
	return nil
}

func (s *Session) stagedStats() protocol.StagedStats {
	hits, misses, entries, fallbacks, sequences := s.deps.TTS.Stats()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	s.mu.Lock()
	enabled := s.set.staged.Enabled
	s.mu.Unlock()
	return protocol.StagedStats{
		Type:          protocol.TypeStagedTTSStats,
		Enabled:       enabled,
		CacheSize:     entries,
		CacheHits:     hits,
		CacheMisses:   misses,
		CacheHitRatio: ratio,
		Fallbacks:     fallbacks,
		Sequences:     sequences,
	}
}

func (s *Session) handleGetTTSInfo() {
	statuses := s.deps.TTS.Registry().Info(s.ctx)
	voices := s.cfg.EffectiveVoices()
	registry := s.deps.TTS.Registry()

	engines := make([]protocol.EngineInfo, 0, len(statuses))
	for _, st := range statuses {
		info := protocol.EngineInfo{Name: st.Name, Available: st.Available}
		for _, v := range voices {
			if registry.HasVoiceAssets(st.Name, v.Name) {
				info.Voices = append(info.Voices, v.Name)
			}
		}
		engines = append(engines, info)
	}

	s.mu.Lock()
	engine, voice := s.set.ttsEngine, s.set.ttsVoice
	s.mu.Unlock()
	s.Emit(protocol.TTSInfo{
		Type:          protocol.TypeTTSInfo,
		Engines:       engines,
		CurrentEngine: engine,
		CurrentVoice:  voice,
	})
}

func (s *Session) handleGetSTTModels() {
	list, err := s.deps.STT.Models(s.ctx)
	if err != nil {
		s.sendError(protocol.ErrSTTFailed, fmt.Sprintf("list stt models: %v", err))
		return
	}
	s.Emit(protocol.STTModels{
		Type:    protocol.TypeSTTModels,
		Models:  list.Models,
		Current: list.Current,
		GPU:     list.GPU,
	})
}

// trimHistoryLocked bounds the conversation context to the configured number
// of exchanges. Caller holds s.mu.
func (s *Session) trimHistoryLocked() {
	if s.set.contextTurns <= 0 {
		return
	}
	max := s.set.contextTurns * 2 // one user + one assistant entry per turn
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
