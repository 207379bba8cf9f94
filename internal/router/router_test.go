package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/internal/router/skill"
	llmmock "github.com/vocata-ai/vocata/pkg/provider/llm/mock"
)

// fastRetry keeps test runtimes low while preserving the retry shape.
var fastRetry = RetryConfig{Attempts: 3, Base: 5 * time.Millisecond}

func newTimeRegistry(t *testing.T) *skill.Registry {
	t.Helper()
	reg := skill.NewRegistry()
	s, err := skill.ForName("time")
	if err != nil {
		t.Fatalf("ForName: %v", err)
	}
	reg.Register(s)
	return reg
}

func TestRouteSkillShortCircuit(t *testing.T) {
	// An LLM backend is configured but must not be consulted when a skill
	// claims the utterance.
	lp := &llmmock.Provider{Reply: "sollte nicht antworten"}
	r := New(
		WithSkills(newTimeRegistry(t)),
		WithLLM(lp),
		WithRetry(fastRetry),
	)

	res := r.Route(context.Background(), "Wie spät ist es?", "de", LLMOptions{})
	if res.Source != protocol.SourceSkill {
		t.Fatalf("source = %q, want skill", res.Source)
	}
	if res.Skill != "time" {
		t.Errorf("skill = %q, want time", res.Skill)
	}
	if res.RoutingFailed {
		t.Error("RoutingFailed = true, want false")
	}
	if len(lp.Calls()) != 0 {
		t.Errorf("llm was called %d times, want 0", len(lp.Calls()))
	}
}

func TestRouteLLM(t *testing.T) {
	lp := &llmmock.Provider{Reply: "Morgen wird es sonnig."}
	r := New(WithLLM(lp), WithRetry(fastRetry))

	res := r.Route(context.Background(), "Wie wird das Wetter?", "de", LLMOptions{
		Model:       "gpt-test",
		Temperature: 0.4,
	})
	if res.Source != protocol.SourceLLM {
		t.Fatalf("source = %q, want llm", res.Source)
	}
	if res.Reply != "Morgen wird es sonnig." {
		t.Errorf("reply = %q", res.Reply)
	}

	calls := lp.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d, want 1", len(calls))
	}
	if calls[0].Req.Model != "gpt-test" || calls[0].Req.Temperature != 0.4 {
		t.Errorf("llm request = %+v", calls[0].Req)
	}
}

func TestRouteEmptyLLMReplyFallsThroughToEcho(t *testing.T) {
	lp := &llmmock.Provider{ReplyEmpty: true}
	r := New(WithLLM(lp), WithRetry(RetryConfig{Attempts: 2, Base: time.Millisecond}))

	res := r.Route(context.Background(), "Erzähl mir was.", "de", LLMOptions{})
	if res.Source != protocol.SourceEcho {
		t.Fatalf("source = %q, want echo", res.Source)
	}
	if res.Reply != "Erzähl mir was." {
		t.Errorf("reply = %q, want the transcript echoed", res.Reply)
	}
	if !res.RoutingFailed {
		t.Error("RoutingFailed = false, want true after llm failure")
	}
}

func TestRouteWebhookAfterLLMFailure(t *testing.T) {
	var hookCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, WithWebhookAck("Mach ich."))
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	lp := &llmmock.Provider{Err: errors.New("flowise down")}
	r := New(
		WithLLM(lp),
		WithWebhook(hook),
		WithRetry(RetryConfig{Attempts: 1, Base: time.Millisecond}),
	)

	res := r.Route(context.Background(), "Schalte das Licht an.", "de", LLMOptions{})
	if res.Source != protocol.SourceWebhook {
		t.Fatalf("source = %q, want webhook", res.Source)
	}
	if res.Reply != "Mach ich." {
		t.Errorf("reply = %q, want the acknowledgement", res.Reply)
	}
	if !res.RoutingFailed {
		t.Error("RoutingFailed = false, want true (llm failed first)")
	}
	if got := hookCalls.Load(); got != 1 {
		t.Errorf("webhook calls = %d, want 1", got)
	}
}

func TestRouteWebhookKeywordGate(t *testing.T) {
	var hookCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hookCalls.Add(1)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	r := New(WithWebhook(hook), WithRetry(fastRetry))

	// No smart-home keyword: the webhook must not fire, echo answers.
	res := r.Route(context.Background(), "Wie heißt du?", "de", LLMOptions{})
	if res.Source != protocol.SourceEcho {
		t.Fatalf("source = %q, want echo", res.Source)
	}
	if got := hookCalls.Load(); got != 0 {
		t.Errorf("webhook calls = %d, want 0", got)
	}
}

func TestRetryLaw(t *testing.T) {
	// A dependency failing on every attempt is called exactly Attempts times,
	// with doubling delays between calls.
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL)
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	base := 40 * time.Millisecond
	r := New(WithWebhook(hook), WithRetry(RetryConfig{Attempts: 3, Base: base}))

	res := r.Route(context.Background(), "Schalte die Heizung aus.", "de", LLMOptions{})
	if res.Source != protocol.SourceEcho || !res.RoutingFailed {
		t.Fatalf("result = %+v, want failed echo", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 3 {
		t.Fatalf("attempts = %d, want exactly 3", len(stamps))
	}
	for k := 1; k < len(stamps); k++ {
		delay := stamps[k].Sub(stamps[k-1])
		want := base * time.Duration(1<<(k-1))
		if delay < want || delay > want+30*base {
			t.Errorf("delay %d = %v, want >= %v (base * 2^(k-1))", k, delay, want)
		}
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	got := RetryConfig{}.withDefaults()
	want := RetryConfig{Attempts: DefaultRetryAttempts, Base: DefaultRetryBase, Cap: DefaultRetryCap}
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}

	explicit := RetryConfig{Attempts: 5, Base: 2 * time.Millisecond, Cap: 7 * time.Millisecond}
	if got := explicit.withDefaults(); got != explicit {
		t.Errorf("withDefaults() = %+v, want explicit values kept", got)
	}
}

func TestRouteEchoWithoutBackends(t *testing.T) {
	r := New()
	res := r.Route(context.Background(), "Hallo Welt.", "de", LLMOptions{})
	if res.Source != protocol.SourceEcho || res.Reply != "Hallo Welt." {
		t.Fatalf("result = %+v, want plain echo", res)
	}
	if res.RoutingFailed {
		t.Error("RoutingFailed = true, want false when nothing external ran")
	}
}

func TestModels(t *testing.T) {
	r := New()
	if _, err := r.Models(context.Background()); err == nil {
		t.Fatal("expected error without llm backend")
	}

	lp := &llmmock.Provider{ModelsResult: []string{"a", "b"}}
	r = New(WithLLM(lp))
	models, err := r.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	if len(models) != 2 {
		t.Errorf("models = %v", models)
	}
	if r.Provider() != "mock" {
		t.Errorf("Provider = %q, want mock", r.Provider())
	}
}
