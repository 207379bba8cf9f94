package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration snapshot: built-in defaults, then the YAML
// profile at path (skipped when path is empty), then environment variable
// overrides. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML profile from r over the defaults and applies
// environment overrides. Useful in tests where profiles are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// applyEnv overlays environment variables onto cfg. Unset variables leave the
// current value; malformed values are collected into one joined error.
func applyEnv(cfg *Config) error {
	var errs []error
	fail := func(key string, err error) {
		errs = append(errs, fmt.Errorf("config: env %s: %w", key, err))
	}

	envString("WS_HOST", &cfg.Server.Host)
	envInt("WS_PORT", &cfg.Server.Port, fail)
	envInt("METRICS_PORT", &cfg.Server.MetricsPort, fail)
	envBool("BINARY_AUDIO", &cfg.Server.BinaryAudio, fail)
	envLogLevel("LOG_LEVEL", &cfg.Server.LogLevel)

	envString("WS_TOKEN", &cfg.Auth.Token)
	envString("JWT_SECRET", &cfg.Auth.JWTSecret)
	envString("JWT_PUBLIC_KEY", &cfg.Auth.JWTPublicKey)
	envList("ALLOWED_IPS", &cfg.Auth.AllowedIPs)

	envString("STT_MODEL", &cfg.STT.Model)
	envString("STT_MODELS_DIR", &cfg.STT.ModelsDir)
	envDevice("STT_DEVICE", &cfg.STT.Device)
	envInt("STT_WORKERS", &cfg.STT.Workers, fail)
	envString("STT_LANGUAGE", &cfg.STT.Language)

	envEngine("TTS_ENGINE", &cfg.TTS.Engine)
	envString("TTS_VOICE", &cfg.TTS.Voice)
	envInt("TTS_TARGET_SR", &cfg.TTS.TargetSampleRate, fail)
	envBool("TTS_LOUDNESS_NORMALIZE", &cfg.TTS.LoudnessNormalize, fail)
	envFloat("TTS_LIMITER_CEILING_DBFS", &cfg.TTS.LimiterCeilingDBFS, fail)
	envString("TTS_PIPER_URL", &cfg.TTS.PiperURL)
	envString("TTS_ZONOS_URL", &cfg.TTS.ZonosURL)
	envString("TTS_KOKORO_URL", &cfg.TTS.KokoroURL)
	envString("TTS_VOICES_DIR", &cfg.TTS.VoicesDir)

	envBool("STAGED_TTS_ENABLED", &cfg.Staged.Enabled, fail)
	envInt("STAGED_TTS_MAX_RESPONSE_LENGTH", &cfg.Staged.MaxResponseLength, fail)
	envInt("STAGED_TTS_MAX_INTRO_LENGTH", &cfg.Staged.MaxIntroLength, fail)
	envDuration("STAGED_TTS_CHUNK_TIMEOUT", &cfg.Staged.ChunkTimeout, fail)
	envInt("STAGED_TTS_MAX_CHUNKS", &cfg.Staged.MaxChunks, fail)
	envInt("STAGED_TTS_CROSSFADE_MS", &cfg.Staged.CrossfadeMS, fail)
	envEngine("STAGED_TTS_INTRO_ENGINE", &cfg.Staged.IntroEngine)
	envEngine("STAGED_TTS_MAIN_ENGINE", &cfg.Staged.MainEngine)
	envBool("STAGED_TTS_ENABLE_CACHING", &cfg.Staged.EnableCaching, fail)
	envInt("STAGED_TTS_CACHE_SIZE", &cfg.Staged.CacheSize, fail)

	envString("LLM_PROVIDER", &cfg.LLM.Provider)
	envString("LLM_MODEL", &cfg.LLM.Model)
	envString("LLM_BASE_URL", &cfg.LLM.BaseURL)
	envString("LLM_API_KEY", &cfg.LLM.APIKey)
	envString("FLOWISE_URL", &cfg.LLM.FlowiseURL)
	envString("FLOWISE_ID", &cfg.LLM.FlowiseID)
	envString("FLOWISE_TOKEN", &cfg.LLM.FlowiseToken)

	envString("N8N_URL", &cfg.Webhook.URL)
	envString("N8N_TOKEN", &cfg.Webhook.Token)

	envList("ENABLED_SKILLS", &cfg.Skills.Enabled)
	envInt("RETRY_LIMIT", &cfg.Retry.Limit, fail)
	envDuration("RETRY_BACKOFF", &cfg.Retry.Backoff, fail)

	envBool("VAD_ENABLED", &cfg.Ingest.VADEnabled, fail)
	envFloat("VAD_THRESHOLD", &cfg.Ingest.VADThreshold, fail)
	envInt("VAD_SILENCE_MS", &cfg.Ingest.VADSilenceMS, fail)
	envInt("MAX_STREAM_SECONDS", &cfg.Ingest.MaxStreamSeconds, fail)

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all hard failures; soft issues are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", cfg.Server.Port))
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server.metrics_port %d is out of range", cfg.Server.MetricsPort))
	}
	if cfg.Server.Port == cfg.Server.MetricsPort {
		errs = append(errs, fmt.Errorf("server.port and server.metrics_port are both %d", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.OutboundQueue < 1 {
		errs = append(errs, fmt.Errorf("server.outbound_queue must be at least 1"))
	}

	if !cfg.STT.Device.IsValid() {
		errs = append(errs, fmt.Errorf("stt.device %q is invalid; valid values: auto, cpu, gpu", cfg.STT.Device))
	}
	if cfg.STT.Workers < 1 {
		errs = append(errs, fmt.Errorf("stt.workers must be at least 1"))
	}

	if !cfg.TTS.Engine.IsValid() {
		errs = append(errs, fmt.Errorf("tts.engine %q is invalid; valid values: auto, piper, zonos, kokoro", cfg.TTS.Engine))
	}
	if cfg.TTS.TargetSampleRate < 8000 || cfg.TTS.TargetSampleRate > 48000 {
		errs = append(errs, fmt.Errorf("tts.target_sample_rate %d is out of range [8000, 48000]", cfg.TTS.TargetSampleRate))
	}
	if cfg.TTS.LimiterCeilingDBFS > 0 {
		errs = append(errs, fmt.Errorf("tts.limiter_ceiling_dbfs %.2f must not be positive", cfg.TTS.LimiterCeilingDBFS))
	}

	if !cfg.Staged.IntroEngine.IsValid() {
		errs = append(errs, fmt.Errorf("staged_tts.intro_engine %q is invalid", cfg.Staged.IntroEngine))
	}
	if !cfg.Staged.MainEngine.IsValid() {
		errs = append(errs, fmt.Errorf("staged_tts.main_engine %q is invalid", cfg.Staged.MainEngine))
	}
	if cfg.Staged.MaxIntroLength < 1 {
		errs = append(errs, fmt.Errorf("staged_tts.max_intro_length must be at least 1"))
	}
	if cfg.Staged.MinChunkLength < 1 || cfg.Staged.MaxChunkLength < cfg.Staged.MinChunkLength {
		errs = append(errs, fmt.Errorf("staged_tts chunk bounds [%d, %d] are invalid", cfg.Staged.MinChunkLength, cfg.Staged.MaxChunkLength))
	}
	if cfg.Staged.MaxChunks < 1 {
		errs = append(errs, fmt.Errorf("staged_tts.max_chunks must be at least 1"))
	}
	if cfg.Staged.MaxChunksForced < cfg.Staged.MaxChunks {
		errs = append(errs, fmt.Errorf("staged_tts.max_chunks_forced %d is below max_chunks %d", cfg.Staged.MaxChunksForced, cfg.Staged.MaxChunks))
	}
	if cfg.Staged.ChunkTimeout <= 0 {
		errs = append(errs, fmt.Errorf("staged_tts.chunk_timeout must be positive"))
	}
	if cfg.Staged.EnableCaching && cfg.Staged.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("staged_tts.cache_size must be at least 1 when caching is enabled"))
	}

	if cfg.LLM.Provider != "" && !validLLMProvider(cfg.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q is invalid; valid values: flowise, openai, anyllm:<name>", cfg.LLM.Provider))
	}

	if cfg.Retry.Limit < 1 {
		errs = append(errs, fmt.Errorf("retry.limit must be at least 1"))
	}
	if cfg.Retry.Backoff <= 0 {
		errs = append(errs, fmt.Errorf("retry.backoff must be positive"))
	}
	if cfg.Retry.BackoffCap < cfg.Retry.Backoff {
		errs = append(errs, fmt.Errorf("retry.backoff_cap %v is below retry.backoff %v", cfg.Retry.BackoffCap, cfg.Retry.Backoff))
	}

	if cfg.Ingest.VADThreshold < 0 || cfg.Ingest.VADThreshold >= 1 {
		errs = append(errs, fmt.Errorf("ingest.vad_threshold %.4f is out of range [0, 1)", cfg.Ingest.VADThreshold))
	}
	if cfg.Ingest.VADSilenceMS < 1 {
		errs = append(errs, fmt.Errorf("ingest.vad_silence_ms must be at least 1"))
	}
	if cfg.Ingest.MaxStreamSeconds < 1 {
		errs = append(errs, fmt.Errorf("ingest.max_stream_seconds must be at least 1"))
	}
	if cfg.Ingest.FrameQueueSize < 1 {
		errs = append(errs, fmt.Errorf("ingest.frame_queue_size must be at least 1"))
	}

	for i, v := range cfg.Voices {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("voices[%d].name is required", i))
		}
	}

	// Soft issues: the server runs, but degraded.
	if cfg.Auth.Token == "" && cfg.Auth.JWTSecret == "" && cfg.Auth.JWTPublicKey == "" {
		slog.Warn("no auth configured; every connection will be accepted")
	}
	if cfg.TTS.PiperURL == "" && cfg.TTS.ZonosURL == "" && cfg.TTS.KokoroURL == "" {
		slog.Warn("no TTS engine URL configured; replies will be text-only")
	}
	if cfg.LLM.Provider == "flowise" && cfg.LLM.FlowiseURL == "" {
		slog.Warn("llm.provider is flowise but flowise_url is empty; the LLM step will be skipped")
	}
	if cfg.Webhook.URL != "" && len(cfg.Webhook.Keywords) == 0 {
		slog.Warn("webhook.url is set but no keywords are configured; the webhook will never trigger")
	}

	return errors.Join(errs...)
}

// EffectiveVoices returns the configured voice list, or the conventional
// single-voice layout derived from tts.voice and tts.voices_dir when the list
// is empty: piper/<name>.onnx and zonos/<name>.wav under the voices dir, and
// the voice name as the kokoro speaker id.
func (c *Config) EffectiveVoices() []VoiceConfig {
	if len(c.Voices) > 0 {
		return c.Voices
	}
	name := c.TTS.Voice
	if name == "" {
		return nil
	}
	return []VoiceConfig{{
		Name:          name,
		Language:      voiceLanguage(name),
		PiperModel:    filepath.Join(c.TTS.VoicesDir, "piper", name+".onnx"),
		ZonosSpeaker:  filepath.Join(c.TTS.VoicesDir, "zonos", name+".wav"),
		KokoroSpeaker: name,
	}}
}

// voiceLanguage derives the language code from a canonical voice name like
// "de-thorsten-low".
func voiceLanguage(name string) string {
	if i := strings.IndexByte(name, '-'); i > 0 {
		return name[:i]
	}
	return name
}

func validLLMProvider(p string) bool {
	if p == "flowise" || p == "openai" {
		return true
	}
	name, ok := strings.CutPrefix(p, "anyllm:")
	return ok && name != ""
}

// ─── env helpers ─────────────────────────────────────────────────────────────

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envList(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func envInt(key string, dst *int, fail func(string, error)) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		fail(key, err)
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, fail func(string, error)) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		fail(key, err)
		return
	}
	*dst = b
}

func envFloat(key string, dst *float64, fail func(string, error)) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		fail(key, err)
		return
	}
	*dst = f
}

// envDuration accepts Go duration strings ("10s", "1.5m"); a bare number is
// read as seconds for compatibility with older deployments.
func envDuration(key string, dst *time.Duration, fail func(string, error)) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	fail(key, fmt.Errorf("%q is neither a duration nor seconds", v))
}

func envLogLevel(key string, dst *LogLevel) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = LogLevel(strings.ToLower(strings.TrimSpace(v)))
	}
}

func envEngine(key string, dst *Engine) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = Engine(strings.ToLower(strings.TrimSpace(v)))
	}
}

func envDevice(key string, dst *Device) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = Device(strings.ToLower(strings.TrimSpace(v)))
	}
}
