package flowise

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

func TestNew(t *testing.T) {
	t.Run("empty base URL returns error", func(t *testing.T) {
		if _, err := New("", "cf-1"); err == nil {
			t.Fatal("expected error for empty baseURL, got nil")
		}
	})

	t.Run("empty chatflow id returns error", func(t *testing.T) {
		if _, err := New("http://localhost:3000", ""); err == nil {
			t.Fatal("expected error for empty chatflowID, got nil")
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p, err := New("http://localhost:3000/", "cf-1")
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if p.baseURL != "http://localhost:3000" {
			t.Errorf("baseURL = %q, want trailing slash stripped", p.baseURL)
		}
	})
}

func TestComplete_MockServer(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody predictionRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(predictionResponse{Text: "  Es regnet heute.  "})
	}))
	defer srv.Close()

	p, err := New(srv.URL, "cf-1", WithToken("secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := p.Complete(context.Background(), llm.Request{
		Query: "Wie wird das Wetter?",
		History: []llm.Turn{
			{Role: llm.RoleUser, Content: "Hallo"},
			{Role: llm.RoleAssistant, Content: "Hallo! Wie kann ich helfen?"},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if reply != "Es regnet heute." {
		t.Errorf("reply = %q, want trimmed text", reply)
	}
	if want := predictionEndpoint + "cf-1"; gotPath != want {
		t.Errorf("path = %q, want %q", gotPath, want)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.Question != "Wie wird das Wetter?" {
		t.Errorf("question = %q", gotBody.Question)
	}
	if len(gotBody.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(gotBody.History))
	}
	if gotBody.History[0].Role != "userMessage" || gotBody.History[1].Role != "apiMessage" {
		t.Errorf("history roles = %q, %q; want userMessage, apiMessage",
			gotBody.History[0].Role, gotBody.History[1].Role)
	}
}

func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chatflow not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := New(srv.URL, "cf-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.Request{Query: "Hallo"}); err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
}

func TestComplete_EmptyQuery(t *testing.T) {
	p, err := New("http://localhost:3000", "cf-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Complete(context.Background(), llm.Request{Query: "  "}); err == nil {
		t.Fatal("expected error for empty query, got nil")
	}
}

func TestModels(t *testing.T) {
	p, err := New("http://localhost:3000", "cf-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	models, err := p.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 1 || models[0] != "cf-1" {
		t.Errorf("models = %v, want [cf-1]", models)
	}
}
