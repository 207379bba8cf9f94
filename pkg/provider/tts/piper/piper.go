// Package piper provides a TTS engine backed by a locally running Piper HTTP
// server. It implements the tts.Engine interface.
//
// Piper is the fast, lower-quality engine used for intro chunks. The server
// performs synthesis via GET /api/tts with URL query parameters and returns a
// WAV body; the voice catalogue is retrieved from GET /api/voices, which maps
// voice ids to their metadata.
//
// Typical usage:
//
//	e, err := piper.New("http://localhost:5000",
//	    piper.WithTimeout(15*time.Second),
//	    piper.WithDefaultVoice("de-thorsten-low"),
//	)
//	res, err := e.Synthesize(ctx, tts.Request{Text: "Einen Moment bitte.", Language: "de"})
package piper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vocata-ai/vocata/pkg/audio"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/api/tts"
	voicesEndpoint = "/api/voices"
)

// Option is a functional option for configuring a Piper Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout for calls to the Piper
// server. Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithDefaultVoice sets the voice used when a request does not name one.
func WithDefaultVoice(voice string) Option {
	return func(e *Engine) {
		e.defaultVoice = voice
	}
}

// Engine implements tts.Engine backed by a locally running Piper HTTP server.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Engine struct {
	serverURL    string
	defaultVoice string
	httpClient   *http.Client
}

// New creates a Piper Engine that targets the server at serverURL (e.g.
// "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
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

// Name returns "piper".
func (e *Engine) Name() string { return "piper" }

// Synthesize performs a single GET /api/tts request and returns the decoded
// PCM. Piper expresses speaking rate as a length scale, the inverse of the
// request speed.
func (e *Engine) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	params := url.Values{}
	params.Set("text", req.Text)
	voice := req.Voice
	if voice == "" {
		voice = e.defaultVoice
	}
	if voice != "" {
		params.Set("voice", voice)
	}
	if req.Speed > 0 && req.Speed != 1 {
		params.Set("length_scale", strconv.FormatFloat(1/req.Speed, 'f', 3, 64))
	}

	reqURL := e.serverURL + ttsEndpoint + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("piper: GET %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: GET %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read WAV response: %w", err)
	}

	pcm, info, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	if info.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return &tts.Result{PCM: pcm, SampleRate: info.SampleRate}, nil
}

// voicesResponse is the JSON body returned by GET /api/voices: a map keyed by
// voice id with per-voice metadata.
type voicesResponse map[string]struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Voices retrieves the voice catalogue via GET /api/voices. Entries are
// returned sorted by id for deterministic output.
func (e *Engine) Voices(ctx context.Context) ([]tts.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piper: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: GET %s returned status %d", voicesEndpoint, resp.StatusCode)
	}

	var raw voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("piper: decode voices: %w", err)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	voices := make([]tts.Voice, 0, len(ids))
	for _, id := range ids {
		v := raw[id]
		name := v.Name
		if name == "" {
			name = id
		}
		voices = append(voices, tts.Voice{
			ID:       id,
			Name:     name,
			Language: v.Language,
		})
	}
	return voices, nil
}

// Available reports whether the Piper server answers its voice catalogue
// endpoint.
func (e *Engine) Available(ctx context.Context) error {
	_, err := e.Voices(ctx)
	return err
}
