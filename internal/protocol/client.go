package protocol

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is the inbound JSON envelope. Exactly one message kind is
// present per frame, discriminated by Type (or the legacy Op key used by
// older clients for the handshake). Fields not belonging to the message kind
// are left at their zero value.
type ClientMessage struct {
	Type string `json:"type,omitempty"`
	Op   string `json:"op,omitempty"`

	// hello
	Version      int      `json:"version,omitempty"`
	Device       string   `json:"device,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// audio stream lifecycle
	StreamID  string `json:"stream_id,omitempty"`
	Chunk     []byte `json:"chunk,omitempty"`
	Sequence  uint32 `json:"sequence,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// text
	Content string `json:"content,omitempty"`

	// tts / stt / llm selection
	Engine string `json:"engine,omitempty"`
	Voice  string `json:"voice,omitempty"`
	Model  string `json:"model,omitempty"`

	// set_tts_options
	Speed    *float64 `json:"speed,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
	Language string   `json:"language,omitempty"`

	// set_audio_opts
	VAD              *bool `json:"vad,omitempty"`
	NoiseSuppression *bool `json:"noise_suppression,omitempty"`
	SilenceMS        *int  `json:"silence_ms,omitempty"`

	// set_llm_options
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	ContextTurns *int     `json:"context_turns,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`

	// staged_tts_control
	Action string             `json:"action,omitempty"`
	Config *StagedConfigPatch `json:"config,omitempty"`
}

// Kind returns the message discriminator, honoring the legacy Op key when
// Type is absent.
func (m *ClientMessage) Kind() string {
	if m.Type != "" {
		return m.Type
	}
	return m.Op
}

// HasCapability reports whether the hello message advertised the named
// capability.
func (m *ClientMessage) HasCapability(name string) bool {
	for _, c := range m.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// StagedConfigPatch carries a partial staged-TTS reconfiguration. Nil fields
// keep their current value.
type StagedConfigPatch struct {
	Enabled           *bool   `json:"enabled,omitempty"`
	MaxResponseLength *int    `json:"max_response_length,omitempty"`
	MaxIntroLength    *int    `json:"max_intro_length,omitempty"`
	ChunkTimeoutMS    *int    `json:"chunk_timeout_ms,omitempty"`
	MaxChunks         *int    `json:"max_chunks,omitempty"`
	CrossfadeMS       *int    `json:"crossfade_ms,omitempty"`
	IntroEngine       *string `json:"intro_engine,omitempty"`
	MainEngine        *string `json:"main_engine,omitempty"`
	EnableCaching     *bool   `json:"enable_caching,omitempty"`
}

// ParseClientMessage decodes one inbound text frame. A frame without a type
// discriminator is rejected here; unknown discriminators are rejected by the
// session so it can answer with a typed error.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode client message: %w", err)
	}
	if msg.Kind() == "" {
		return nil, fmt.Errorf("protocol: client message missing type")
	}
	return &msg, nil
}
