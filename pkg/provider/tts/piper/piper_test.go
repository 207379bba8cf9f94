package piper

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vocata-ai/vocata/pkg/audio"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return e
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e := mustNew(t, "http://localhost:5000")
		if e.serverURL != "http://localhost:5000" {
			t.Errorf("serverURL = %q, want %q", e.serverURL, "http://localhost:5000")
		}
		if e.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", e.httpClient.Timeout, defaultTimeout)
		}
		if e.Name() != "piper" {
			t.Errorf("Name() = %q, want piper", e.Name())
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		e := mustNew(t, "http://localhost:5000/")
		if e.serverURL != "http://localhost:5000" {
			t.Errorf("serverURL = %q, want trailing slash stripped", e.serverURL)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		e := mustNew(t, "http://localhost:5000",
			WithTimeout(5*time.Second),
			WithDefaultVoice("de-thorsten-low"),
		)
		if e.httpClient.Timeout != 5*time.Second {
			t.Errorf("timeout = %v, want %v", e.httpClient.Timeout, 5*time.Second)
		}
		if e.defaultVoice != "de-thorsten-low" {
			t.Errorf("defaultVoice = %q", e.defaultVoice)
		}
	})
}

func TestSynthesize_MockServer(t *testing.T) {
	wantPCM := bytes.Repeat([]byte{0x42, 0x00}, 50)

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ttsEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, ttsEndpoint)
		}
		q := r.URL.Query()
		gotQuery = map[string]string{
			"text":         q.Get("text"),
			"voice":        q.Get("voice"),
			"length_scale": q.Get("length_scale"),
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(wantPCM, 22050, 1))
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL)
	res, err := e.Synthesize(context.Background(), tts.Request{
		Text:  "Es ist 12:00 Uhr.",
		Voice: "de-thorsten-low",
		Speed: 1.25,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotQuery["text"] != "Es ist 12:00 Uhr." {
		t.Errorf("text param = %q", gotQuery["text"])
	}
	if gotQuery["voice"] != "de-thorsten-low" {
		t.Errorf("voice param = %q", gotQuery["voice"])
	}
	if gotQuery["length_scale"] != "0.800" {
		t.Errorf("length_scale param = %q, want 0.800 (1/1.25)", gotQuery["length_scale"])
	}
	if !bytes.Equal(res.PCM, wantPCM) {
		t.Errorf("PCM mismatch: got %d bytes, want %d", len(res.PCM), len(wantPCM))
	}
	if res.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", res.SampleRate)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	var gotVoice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVoice = r.URL.Query().Get("voice")
		_, _ = w.Write(audio.EncodeWAV([]byte{0, 0}, 22050, 1))
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL, WithDefaultVoice("de-thorsten-low"))
	if _, err := e.Synthesize(context.Background(), tts.Request{Text: "Hallo."}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotVoice != "de-thorsten-low" {
		t.Errorf("voice param = %q, want default voice", gotVoice)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	e := mustNew(t, "http://localhost:5000")
	if _, err := e.Synthesize(context.Background(), tts.Request{Text: "   "}); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL)
	if _, err := e.Synthesize(context.Background(), tts.Request{Text: "Hallo."}); err == nil {
		t.Fatal("expected error on HTTP 500, got nil")
	}
}

func TestVoices_SortedByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voicesEndpoint {
			t.Errorf("path = %q, want %q", r.URL.Path, voicesEndpoint)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"de-kerstin-low": {"language": "de"},
			"de-thorsten-low": {"name": "Thorsten", "language": "de"},
			"en-amy-low": {"language": "en"}
		}`))
	}))
	defer srv.Close()

	e := mustNew(t, srv.URL)
	voices, err := e.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}

	wantIDs := []string{"de-kerstin-low", "de-thorsten-low", "en-amy-low"}
	if len(voices) != len(wantIDs) {
		t.Fatalf("got %d voices, want %d", len(voices), len(wantIDs))
	}
	for i, id := range wantIDs {
		if voices[i].ID != id {
			t.Errorf("voices[%d].ID = %q, want %q", i, voices[i].ID, id)
		}
	}
	if voices[1].Name != "Thorsten" {
		t.Errorf("named voice Name = %q, want Thorsten", voices[1].Name)
	}
	if voices[0].Name != "de-kerstin-low" {
		t.Errorf("unnamed voice should fall back to id, got %q", voices[0].Name)
	}
}

func TestAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	e := mustNew(t, srv.URL)
	if err := e.Available(context.Background()); err != nil {
		t.Errorf("Available against live server: %v", err)
	}

	srv.Close()
	if err := e.Available(context.Background()); err == nil {
		t.Error("Available against closed server succeeded, want error")
	}
}
