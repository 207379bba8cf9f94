// Package protocol defines the wire protocol spoken between clients and the
// server: the JSON v1 control/data messages, the binary v2 audio frame codec,
// the negotiated feature set, and the error taxonomy.
//
// All control messages and all server-to-client traffic are JSON. The binary
// v2 frame exists only for audio ingress and is opt-in via the `binary_audio`
// capability during the hello handshake.
package protocol

// Client → server message types.
const (
	TypeHello            = "hello"
	TypeStartAudioStream = "start_audio_stream"
	TypeAudioChunk       = "audio_chunk"
	TypeEndAudioStream   = "end_audio_stream"
	TypeText             = "text"
	TypePing             = "ping"
	TypeSwitchTTSEngine  = "switch_tts_engine"
	TypeSetTTSVoice      = "set_tts_voice"
	TypeSetTTSOptions    = "set_tts_options"
	TypeSwitchSTTModel   = "switch_stt_model"
	TypeSetAudioOpts     = "set_audio_opts"
	TypeGetLLMModels     = "get_llm_models"
	TypeSwitchLLMModel   = "switch_llm_model"
	TypeSetLLMOptions    = "set_llm_options"
	TypeStagedTTSControl = "staged_tts_control"
	TypeGetTTSInfo       = "get_tts_info"
	TypeGetSTTModels     = "get_stt_models"
)

// Server → client message types.
const (
	TypeReady              = "ready"
	TypeAudioStreamStarted = "audio_stream_started"
	TypeAudioStreamEnded   = "audio_stream_ended"
	TypeInterimTranscript  = "interim_transcript"
	TypeFinalTranscript    = "final_transcript"
	TypeResponse           = "response"
	TypeTTSChunk           = "tts_chunk"
	TypeTTSSequenceEnd     = "tts_sequence_end"
	TypeLLMModels          = "llm_models"
	TypeTTSInfo            = "tts_info"
	TypeSTTModels          = "stt_models"
	TypePong               = "pong"
	TypeTTSEngineSwitched  = "tts_engine_switched"
	TypeTTSVoiceUpdated    = "tts_voice_updated"
	TypeTTSOptionsUpdated  = "tts_options_updated"
	TypeSTTModelSwitched   = "stt_model_switched"
	TypeAudioOptsUpdated   = "audio_opts_updated"
	TypeLLMModelSwitched   = "llm_model_switched"
	TypeLLMOptionsUpdated  = "llm_options_updated"
	TypeStagedTTSUpdated   = "staged_tts_updated"
	TypeStagedTTSStats     = "staged_tts_stats"
	TypeError              = "error"
)

// staged_tts_control actions.
const (
	StagedActionConfigure  = "configure"
	StagedActionEnable     = "enable"
	StagedActionDisable    = "disable"
	StagedActionClearCache = "clear_cache"
	StagedActionGetStats   = "get_stats"
)

// Capability names a client may advertise in hello.
const (
	CapBinaryAudio        = "binary_audio"
	CapInterimTranscripts = "interim_transcripts"
	CapVAD                = "vad"
)

// WebSocket close codes. 4401 sits in the application-reserved range.
const (
	CloseNormal       = 1000
	CloseServerError  = 1011
	CloseUnauthorized = 4401
)

// ErrorKind classifies a wire-visible failure. The kind determines the
// recovery policy on both ends; see the Error message.
type ErrorKind string

const (
	ErrUnauthorized         ErrorKind = "unauthorized"
	ErrInvalidMessage       ErrorKind = "invalid_message"
	ErrStreamOverflow       ErrorKind = "stream_overflow"
	ErrSTTFailed            ErrorKind = "stt_failed"
	ErrRoutingFailed        ErrorKind = "routing_failed"
	ErrTTSFailed            ErrorKind = "tts_failed"
	ErrTTSEngineUnavailable ErrorKind = "tts_engine_unavailable"
	ErrTTSChunkFailed       ErrorKind = "tts_chunk_failed"
	ErrBackpressure         ErrorKind = "backpressure"
	ErrFatal                ErrorKind = "fatal"
)

// Features is the negotiated capability set advertised in the ready message.
// Each flag is the pairwise minimum of what the client offered and what the
// server allows.
type Features struct {
	BinaryAudio        bool `json:"binary_audio"`
	InterimTranscripts bool `json:"interim_transcripts"`
	VAD                bool `json:"vad"`
}
