// Package config provides the configuration schema and loader for the Vocata
// voice server. Settings resolve in two layers: an optional YAML profile file
// supplies defaults, then environment variables override individual values.
// The resulting snapshot is immutable after startup.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l to the corresponding slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Engine names a TTS engine adapter, or EngineAuto for registry resolution.
type Engine string

const (
	// EngineAuto lets the staged planner pick per slot: piper for the intro,
	// zonos for the main body, degrading to whatever is available.
	EngineAuto Engine = "auto"

	// EnginePiper is the fast CPU engine used for low-latency intros.
	EnginePiper Engine = "piper"

	// EngineZonos is the high-quality GPU engine used for the main body.
	EngineZonos Engine = "zonos"

	// EngineKokoro is the compact multilingual engine.
	EngineKokoro Engine = "kokoro"
)

// IsValid reports whether e is a recognised engine selector.
func (e Engine) IsValid() bool {
	switch e {
	case EngineAuto, EnginePiper, EngineZonos, EngineKokoro:
		return true
	}
	return false
}

// Device selects the STT compute device.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceGPU  Device = "gpu"
)

// IsValid reports whether d is a recognised device selector.
func (d Device) IsValid() bool {
	switch d {
	case DeviceAuto, DeviceCPU, DeviceGPU:
		return true
	}
	return false
}

// Config is the root configuration snapshot.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	STT     STTConfig     `yaml:"stt"`
	TTS     TTSConfig     `yaml:"tts"`
	Staged  StagedConfig  `yaml:"staged_tts"`
	LLM     LLMConfig     `yaml:"llm"`
	Webhook WebhookConfig `yaml:"webhook"`
	Skills  SkillsConfig  `yaml:"skills"`
	Retry   RetryConfig   `yaml:"retry"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Voices  []VoiceConfig `yaml:"voices"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the WebSocket bind address.
	Host string `yaml:"host"`

	// Port is the WebSocket listen port.
	Port int `yaml:"port"`

	// MetricsPort serves /metrics and /health on a separate listener.
	MetricsPort int `yaml:"metrics_port"`

	// BinaryAudio offers the binary v2 audio frame path to clients.
	BinaryAudio bool `yaml:"binary_audio"`

	// InterimTranscripts offers partial STT results to clients.
	InterimTranscripts bool `yaml:"interim_transcripts"`

	// OutboundQueue bounds the per-session outbound message queue.
	OutboundQueue int `yaml:"outbound_queue"`

	// PingInterval is the liveness ping period. Two missed pongs close the
	// connection with code 1011.
	PingInterval time.Duration `yaml:"ping_interval"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AuthConfig selects how connection tokens are validated. Exactly one of
// Token, JWTSecret, or JWTPublicKey should be set; when several are set, JWT
// validation wins over the shared secret.
type AuthConfig struct {
	// Token is a shared secret compared verbatim against the client token.
	Token string `yaml:"token"`

	// JWTSecret enables HS256 validation of client tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// JWTPublicKey enables RS256/EdDSA validation. The value is either inline
	// PEM or a path to a PEM file.
	JWTPublicKey string `yaml:"jwt_public_key"`

	// AllowedIPs restricts connections to the listed IPs or CIDR ranges.
	// Empty means no IP filtering.
	AllowedIPs []string `yaml:"allowed_ips"`
}

// STTConfig configures the whisper transcription adapter.
type STTConfig struct {
	// Model is a whisper model name ("base", "small", …) resolved inside
	// ModelsDir, or an absolute path to a ggml model file.
	Model string `yaml:"model"`

	// ModelsDir is the directory scanned for ggml model files.
	ModelsDir string `yaml:"models_dir"`

	// Device selects cpu, gpu, or auto.
	Device Device `yaml:"device"`

	// Workers is the transcription worker pool size.
	Workers int `yaml:"workers"`

	// Language is the default transcription language code.
	Language string `yaml:"language"`
}

// TTSConfig configures synthesis output and the engine endpoints.
type TTSConfig struct {
	// Engine is the default engine for non-staged synthesis.
	Engine Engine `yaml:"engine"`

	// Voice is the default canonical voice name.
	Voice string `yaml:"voice"`

	// TargetSampleRate is the output rate all chunk PCM is resampled to.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// LoudnessNormalize normalizes chunk loudness to about -16 dBFS.
	LoudnessNormalize bool `yaml:"loudness_normalize"`

	// LimiterCeilingDBFS is the soft-limiter ceiling.
	LimiterCeilingDBFS float64 `yaml:"limiter_ceiling_dbfs"`

	// PiperURL, ZonosURL, KokoroURL are the engine server base URLs. An empty
	// URL leaves that engine unavailable.
	PiperURL  string `yaml:"piper_url"`
	ZonosURL  string `yaml:"zonos_url"`
	KokoroURL string `yaml:"kokoro_url"`

	// VoicesDir is the root used to resolve conventional voice asset paths
	// when no explicit voices list is configured.
	VoicesDir string `yaml:"voices_dir"`
}

// StagedConfig tunes the two-engine staged synthesis pipeline.
type StagedConfig struct {
	// Enabled toggles staging; when off, replies are synthesized as one
	// monolithic sequence on the default engine.
	Enabled bool `yaml:"enabled"`

	// MaxResponseLength bounds the spoken reply in characters; longer text is
	// truncated at a sentence boundary.
	MaxResponseLength int `yaml:"max_response_length"`

	// MaxIntroLength bounds the intro chunk in characters.
	MaxIntroLength int `yaml:"max_intro_length"`

	// MinChunkLength and MaxChunkLength bound individual main-body chunks.
	MinChunkLength int `yaml:"min_chunk_length"`
	MaxChunkLength int `yaml:"max_chunk_length"`

	// ChunkTimeout is the per-chunk synthesis deadline.
	ChunkTimeout time.Duration `yaml:"chunk_timeout"`

	// MaxChunks bounds the chunk count; forced chunking may raise the
	// effective bound to MaxChunksForced.
	MaxChunks int `yaml:"max_chunks"`

	// MaxChunksForced is the hard ceiling when chunked output is forced.
	MaxChunksForced int `yaml:"max_chunks_forced"`

	// CrossfadeMS is the client-side equal-power crossfade hint attached to
	// every chunk.
	CrossfadeMS int `yaml:"crossfade_ms"`

	// IntroEngine and MainEngine pick the two stages; "auto" resolves against
	// engine availability.
	IntroEngine Engine `yaml:"intro_engine"`
	MainEngine  Engine `yaml:"main_engine"`

	// EnableCaching toggles the fingerprint cache.
	EnableCaching bool `yaml:"enable_caching"`

	// CacheSize is the fingerprint LRU capacity in entries.
	CacheSize int `yaml:"cache_size"`
}

// LLMConfig configures the external agent step of the intent router.
type LLMConfig struct {
	// Provider selects the backend: "flowise", "openai", or "anyllm:<name>"
	// (e.g. "anyllm:ollama"). Empty disables the LLM step.
	Provider string `yaml:"provider"`

	// Model is the initial model for non-Flowise providers; sessions may
	// switch models at runtime.
	Model string `yaml:"model"`

	// FlowiseURL and FlowiseID target a Flowise chatflow prediction endpoint.
	FlowiseURL string `yaml:"flowise_url"`
	FlowiseID  string `yaml:"flowise_id"`

	// FlowiseToken is the optional bearer token for Flowise.
	FlowiseToken string `yaml:"flowise_token"`

	// BaseURL overrides the OpenAI-compatible endpoint for the "openai"
	// provider.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`

	// Temperature, MaxTokens, ContextTurns, SystemPrompt are the default
	// sampling parameters; sessions may override them.
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	ContextTurns int     `yaml:"context_turns"`
	SystemPrompt string  `yaml:"system_prompt"`
}

// WebhookConfig configures the automation webhook step.
type WebhookConfig struct {
	// URL is the n8n-style webhook endpoint. Empty disables the step.
	URL string `yaml:"url"`

	// Token is sent in the POST body alongside the query.
	Token string `yaml:"token"`

	// Keywords trigger the webhook when one of them matches the utterance
	// (fuzzy and phonetic matching applies).
	Keywords []string `yaml:"keywords"`

	// Ack is the spoken acknowledgement on webhook success.
	Ack string `yaml:"ack"`
}

// SkillsConfig lists the enabled local skills in registration order.
type SkillsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// RetryConfig governs retries for all external HTTP calls.
type RetryConfig struct {
	// Limit is the total number of attempts per call.
	Limit int `yaml:"limit"`

	// Backoff is the base delay; attempt k waits base * 2^(k-1).
	Backoff time.Duration `yaml:"backoff"`

	// BackoffCap clamps the per-attempt delay.
	BackoffCap time.Duration `yaml:"backoff_cap"`
}

// IngestConfig tunes audio stream handling and VAD.
type IngestConfig struct {
	// VADEnabled offers server-side silence detection to clients.
	VADEnabled bool `yaml:"vad_enabled"`

	// VADThreshold is the normalized RMS level below which a frame counts as
	// silence.
	VADThreshold float64 `yaml:"vad_threshold"`

	// VADSilenceMS is the silence window after which an active stream
	// auto-finalizes.
	VADSilenceMS int `yaml:"vad_silence_ms"`

	// MaxStreamSeconds force-finalizes any stream that exceeds it.
	MaxStreamSeconds int `yaml:"max_stream_seconds"`

	// FrameQueueSize bounds the per-stream inbound queue; the oldest frame is
	// dropped on overflow.
	FrameQueueSize int `yaml:"frame_queue_size"`
}

// VoiceConfig maps one canonical voice to its per-engine assets.
type VoiceConfig struct {
	// Name is the canonical voice identifier clients select.
	Name string `yaml:"name"`

	// Language is the BCP-47 language code of the voice.
	Language string `yaml:"language"`

	// PiperModel is the ONNX model path for the piper engine.
	PiperModel string `yaml:"piper_model"`

	// ZonosSpeaker is the speaker reference (WAV path) for the zonos engine.
	ZonosSpeaker string `yaml:"zonos_speaker"`

	// KokoroSpeaker is the speaker id for the kokoro engine.
	KokoroSpeaker string `yaml:"kokoro_speaker"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8765,
			MetricsPort:        8766,
			BinaryAudio:        true,
			InterimTranscripts: true,
			OutboundQueue:      256,
			PingInterval:       15 * time.Second,
			LogLevel:           LogInfo,
		},
		STT: STTConfig{
			Model:     "base",
			ModelsDir: "models",
			Device:    DeviceAuto,
			Workers:   2,
			Language:  "de",
		},
		TTS: TTSConfig{
			Engine:             EngineAuto,
			Voice:              "de-thorsten-low",
			TargetSampleRate:   24000,
			LoudnessNormalize:  true,
			LimiterCeilingDBFS: -1.0,
			VoicesDir:          "voices",
		},
		Staged: StagedConfig{
			Enabled:           true,
			MaxResponseLength: 500,
			MaxIntroLength:    120,
			MinChunkLength:    100,
			MaxChunkLength:    220,
			ChunkTimeout:      10 * time.Second,
			MaxChunks:         3,
			MaxChunksForced:   6,
			CrossfadeMS:       80,
			IntroEngine:       EngineAuto,
			MainEngine:        EngineAuto,
			EnableCaching:     true,
			CacheSize:         128,
		},
		LLM: LLMConfig{
			Provider:     "flowise",
			Temperature:  0.7,
			MaxTokens:    256,
			ContextTurns: 8,
		},
		Webhook: WebhookConfig{
			Keywords: []string{"schalte", "licht", "steckdose", "rollladen"},
			Ack:      "Okay, wird erledigt.",
		},
		Skills: SkillsConfig{
			Enabled: []string{"time"},
		},
		Retry: RetryConfig{
			Limit:      3,
			Backoff:    time.Second,
			BackoffCap: 30 * time.Second,
		},
		Ingest: IngestConfig{
			VADEnabled:       true,
			VADThreshold:     0.015,
			VADSilenceMS:     1500,
			MaxStreamSeconds: 30,
			FrameQueueSize:   100,
		},
	}
}
