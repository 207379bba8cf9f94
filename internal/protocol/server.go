package protocol

// Outbound message payloads. Every struct carries its own Type tag so callers
// can hand any of them straight to the session's emit path.

// Ready acknowledges a successful handshake.
type Ready struct {
	Type      string   `json:"op"`
	SessionID string   `json:"session_id"`
	Features  Features `json:"features"`
}

// NewReady builds the handshake reply.
func NewReady(sessionID string, features Features) Ready {
	return Ready{Type: TypeReady, SessionID: sessionID, Features: features}
}

// AudioStreamStarted confirms that a stream is accepting frames.
type AudioStreamStarted struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// AudioStreamEnded reports stream finalization and its cause.
// Reason is one of "client", "vad", "max_duration", "session_closed".
type AudioStreamEnded struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Reason   string `json:"reason"`
	Duration int64  `json:"duration_ms"`
}

// Stream end reasons.
const (
	EndReasonClient      = "client"
	EndReasonVAD         = "vad"
	EndReasonMaxDuration = "max_duration"
	EndReasonSession     = "session_closed"
)

// InterimTranscript is a partial STT result, sent only when the capability
// was negotiated.
type InterimTranscript struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
	Text     string `json:"text"`
}

// FinalTranscript is the completed transcription of one stream.
type FinalTranscript struct {
	Type       string  `json:"type"`
	StreamID   string  `json:"stream_id"`
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Response is the textual reply produced by the intent layer.
type Response struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// Response sources.
const (
	SourceSkill   = "skill"
	SourceLLM     = "llm"
	SourceWebhook = "webhook"
	SourceEcho    = "echo"
)

// TTSChunk is one ordered audio chunk of a sequence. Audio is base64 PCM16
// mono at SampleRate; it is null when Success is false.
type TTSChunk struct {
	Type        string `json:"type"`
	SequenceID  string `json:"sequence_id"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	Engine      string `json:"engine"`
	Text        string `json:"text"`
	Audio       []byte `json:"audio"`
	SampleRate  int    `json:"sample_rate"`
	CrossfadeMS int    `json:"crossfade_ms"`
	Success     bool   `json:"success"`
}

// TTSSequenceEnd terminates a sequence. Emitted exactly once per sequence.
type TTSSequenceEnd struct {
	Type       string `json:"type"`
	SequenceID string `json:"sequence_id"`
	Chunks     int    `json:"chunks"`
	Success    bool   `json:"success"`
}

// LLMModels answers get_llm_models.
type LLMModels struct {
	Type    string   `json:"type"`
	Models  []string `json:"models"`
	Current string   `json:"current,omitempty"`
}

// EngineInfo describes one TTS engine for the tts_info discovery reply.
type EngineInfo struct {
	Name      string   `json:"name"`
	Available bool     `json:"available"`
	Voices    []string `json:"voices,omitempty"`
}

// TTSInfo answers get_tts_info.
type TTSInfo struct {
	Type          string       `json:"type"`
	Engines       []EngineInfo `json:"engines"`
	CurrentEngine string       `json:"current_engine"`
	CurrentVoice  string       `json:"current_voice"`
}

// STTModels answers get_stt_models.
type STTModels struct {
	Type    string   `json:"type"`
	Models  []string `json:"models"`
	Current string   `json:"current"`
	GPU     bool     `json:"gpu_available"`
}

// Pong answers ping, echoing the client timestamp.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Ack is the generic acknowledgement for control messages; Type carries the
// concrete *_updated / *_switched name and Value the applied setting.
type Ack struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// StagedStats answers staged_tts_control{action:"get_stats"}.
type StagedStats struct {
	Type          string  `json:"type"`
	Enabled       bool    `json:"enabled"`
	CacheSize     int     `json:"cache_size"`
	CacheHits     uint64  `json:"cache_hits"`
	CacheMisses   uint64  `json:"cache_misses"`
	CacheHitRatio float64 `json:"cache_hit_ratio"`
	Fallbacks     uint64  `json:"fallbacks"`
	Sequences     uint64  `json:"sequences"`
}

// Error is the typed failure message; Kind selects the client-side policy.
type Error struct {
	Type    string    `json:"type"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewError builds an error message.
func NewError(kind ErrorKind, message string) Error {
	return Error{Type: TypeError, Kind: kind, Message: message}
}
