// Package zonos provides a TTS engine backed by a locally running Zonos API
// server. It implements the tts.Engine interface.
//
// Zonos is the high-quality, slower engine used for main chunks. Synthesis is
// performed via POST /generate with a JSON body and returns a WAV response;
// the speaker catalogue is retrieved from GET /speakers, which returns an
// array of registered speaker names.
//
// Zonos expresses speaking rate in syllables per second (default 15). The
// request's speed multiplier is mapped onto that scale.
package zonos

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
	defaultTimeout   = 60 * time.Second
	generateEndpoint = "/generate"
	speakersEndpoint = "/speakers"

	// baseSpeakingRate is the Zonos syllables-per-second value corresponding
	// to speed 1.0.
	baseSpeakingRate = 15.0
)

// Option is a functional option for configuring a Zonos Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout for calls to the Zonos
// server. Defaults to 60 s; Zonos synthesis is slow.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithDefaultSpeaker sets the speaker used when a request does not name one.
func WithDefaultSpeaker(speaker string) Option {
	return func(e *Engine) {
		e.defaultSpeaker = speaker
	}
}

// Engine implements tts.Engine backed by a locally running Zonos API server.
// It is safe for concurrent use.
type Engine struct {
	serverURL      string
	defaultSpeaker string
	httpClient     *http.Client
}

// New creates a Zonos Engine that targets the server at serverURL (e.g.
// "http://localhost:8001"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("zonos: serverURL must not be empty")
	}
	e := &Engine{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Name returns "zonos".
func (e *Engine) Name() string { return "zonos" }

// generateRequest is the JSON body sent to POST /generate.
type generateRequest struct {
	Text         string  `json:"text"`
	Speaker      string  `json:"speaker"`
	Language     string  `json:"language"`
	SpeakingRate float64 `json:"speaking_rate"`
}

// Synthesize performs a single POST /generate call and returns the decoded
// PCM.
func (e *Engine) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("zonos: text must not be empty")
	}

	speaker := req.Voice
	if speaker == "" {
		speaker = e.defaultSpeaker
	}
	speed := req.Speed
	if speed <= 0 {
		speed = 1
	}

	body := generateRequest{
		Text:         req.Text,
		Speaker:      speaker,
		Language:     req.Language,
		SpeakingRate: baseSpeakingRate * speed,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("zonos: marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+generateEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zonos: create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("zonos: POST %s: %w", generateEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zonos: POST %s returned status %d", generateEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("zonos: read WAV response: %w", err)
	}

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("zonos: %w", err)
	}
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return &tts.Result{PCM: pcm, SampleRate: info.SampleRate}, nil
}

// Voices retrieves the registered speakers via GET /speakers.
func (e *Engine) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+speakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("zonos: create list-speakers request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zonos: GET %s: %w", speakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zonos: GET %s returned status %d", speakersEndpoint, resp.StatusCode)
	}

	var speakers []string
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("zonos: decode speakers: %w", err)
	}

	voices := make([]tts.Voice, 0, len(speakers))
	for _, s := range speakers {
		voices = append(voices, tts.Voice{ID: s, Name: s})
	}
	return voices, nil
}

// Available reports whether the Zonos server answers its speaker catalogue
// endpoint.
func (e *Engine) Available(ctx context.Context) error {
	_, err := e.Voices(ctx)
	return err
}
