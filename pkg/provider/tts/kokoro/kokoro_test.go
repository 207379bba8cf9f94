package kokoro

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vocata-ai/vocata/pkg/audio"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

func mustNew(t *testing.T, serverURL string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return e
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty URL, got nil")
	}
}

func TestSynthesize_MockServer(t *testing.T) {
	wantPCM := bytes.Repeat([]byte{0x33, 0x00}, 60)

	var gotReq speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != speechEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, speechEndpoint)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(wantPCM, 24000, 1))
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithDefaultVoice("de_thorsten"))
	res, err := e.Synthesize(context.Background(), tts.Request{
		Text:  "Wie kann ich helfen?",
		Speed: 1.1,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotReq.Model != defaultModel {
		t.Errorf("model = %q, want %q", gotReq.Model, defaultModel)
	}
	if gotReq.Input != "Wie kann ich helfen?" {
		t.Errorf("input = %q", gotReq.Input)
	}
	if gotReq.Voice != "de_thorsten" {
		t.Errorf("voice = %q, want default voice", gotReq.Voice)
	}
	if gotReq.Speed != 1.1 {
		t.Errorf("speed = %v, want 1.1", gotReq.Speed)
	}
	if gotReq.ResponseFormat != "wav" {
		t.Errorf("response_format = %q, want wav", gotReq.ResponseFormat)
	}
	if !bytes.Equal(res.PCM, wantPCM) {
		t.Errorf("PCM mismatch: got %d bytes, want %d", len(res.PCM), len(wantPCM))
	}
	if res.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", res.SampleRate)
	}
}

func TestSynthesize_ModelOverride(t *testing.T) {
	var gotReq speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write(audio.EncodeWAV([]byte{0, 0}, 24000, 1))
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithModel("kokoro-v1.0"))
	if _, err := e.Synthesize(context.Background(), tts.Request{Text: "Hallo."}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotReq.Model != "kokoro-v1.0" {
		t.Errorf("model = %q, want kokoro-v1.0", gotReq.Model)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL)
	if _, err := e.Synthesize(context.Background(), tts.Request{Text: "Hallo."}); err == nil {
		t.Fatal("expected error on HTTP 400, got nil")
	}
}

func TestVoices_LanguagePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voicesEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, voicesEndpoint)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices": ["de_thorsten", "af_heart"]}`))
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL)
	voices, err := e.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Language != "de" {
		t.Errorf("voices[0].Language = %q, want de", voices[0].Language)
	}
	if voices[1].Language != "af" {
		t.Errorf("voices[1].Language = %q, want af", voices[1].Language)
	}
}
