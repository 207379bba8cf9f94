// Package kokoro provides a TTS engine backed by a locally running
// Kokoro-FastAPI server. It implements the tts.Engine interface.
//
// Kokoro exposes an OpenAI-compatible speech endpoint: synthesis is performed
// via POST /v1/audio/speech with a JSON body and returns raw audio in the
// requested format (WAV here); the voice catalogue is retrieved from GET
// /v1/audio/voices.
package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/pkg/audio"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	defaultTimeout = 30 * time.Second
	defaultModel   = "kokoro"
	speechEndpoint = "/v1/audio/speech"
	voicesEndpoint = "/v1/audio/voices"
)

// Option is a functional option for configuring a Kokoro Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout for calls to the Kokoro
// server. Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithModel overrides the model name sent in speech requests. Defaults to
// "kokoro".
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithDefaultVoice sets the voice used when a request does not name one.
func WithDefaultVoice(voice string) Option {
	return func(e *Engine) {
		e.defaultVoice = voice
	}
}

// Engine implements tts.Engine backed by a locally running Kokoro-FastAPI
// server. It is safe for concurrent use.
type Engine struct {
	serverURL    string
	model        string
	defaultVoice string
	httpClient   *http.Client
}

// New creates a Kokoro Engine that targets the server at serverURL (e.g.
// "http://localhost:8880"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("kokoro: serverURL must not be empty")
	}
	e := &Engine{
		serverURL: strings.TrimRight(serverURL, "/"),
		model:     defaultModel,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name returns "kokoro".
func (e *Engine) Name() string { return "kokoro" }

// speechRequest is the JSON body sent to POST /v1/audio/speech. The shape
// follows the OpenAI audio API.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

// Synthesize performs a single POST /v1/audio/speech call and returns the
// decoded PCM.
func (e *Engine) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("kokoro: text must not be empty")
	}

	voice := req.Voice
	if voice == "" {
		voice = e.defaultVoice
	}

	body := speechRequest{
		Model:          e.model,
		Input:          req.Text,
		Voice:          voice,
		Speed:          req.Speed,
		ResponseFormat: "wav",
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("kokoro: marshal speech request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+speechEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("kokoro: create speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kokoro: POST %s: %w", speechEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kokoro: POST %s returned status %d", speechEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kokoro: read WAV response: %w", err)
	}

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("kokoro: %w", err)
	}
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return &tts.Result{PCM: pcm, SampleRate: info.SampleRate}, nil
}

// voicesResponse is the JSON body returned by GET /v1/audio/voices.
type voicesResponse struct {
	Voices []string `json:"voices"`
}

// Voices retrieves the voice catalogue via GET /v1/audio/voices.
func (e *Engine) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("kokoro: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kokoro: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kokoro: GET %s returned status %d", voicesEndpoint, resp.StatusCode)
	}

	var raw voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("kokoro: decode voices: %w", err)
	}

	voices := make([]tts.Voice, 0, len(raw.Voices))
	for _, v := range raw.Voices {
		// Kokoro voice ids carry a language prefix ("de_...", "af_...").
		lang := ""
		if i := strings.IndexByte(v, '_'); i > 0 {
			lang = v[:i]
		}
		voices = append(voices, tts.Voice{ID: v, Name: v, Language: lang})
	}
	return voices, nil
}

// Available reports whether the Kokoro server answers its voice catalogue
// endpoint.
func (e *Engine) Available(ctx context.Context) error {
	_, err := e.Voices(ctx)
	return err
}
