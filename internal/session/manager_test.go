package session

import (
	"testing"
	"time"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/internal/router"
	sttmock "github.com/vocata-ai/vocata/pkg/provider/stt/mock"
)

func newManagedSession(id string) *Session {
	return New(id, config.Default(), Deps{
		STT:    &sttmock.Transcriber{},
		Router: &fakeRouter{result: router.Result{Reply: "ok", Source: protocol.SourceEcho}},
		TTS:    &fakeSpeech{},
	})
}

func TestManagerRegistry(t *testing.T) {
	m := NewManager(nil, nil)
	a := newManagedSession("a")
	b := newManagedSession("b")
	defer a.Close()
	defer b.Close()

	m.Add(a)
	m.Add(b)
	if m.Len() != 2 {
		t.Errorf("len = %d, want 2", m.Len())
	}
	if m.Get("a") != a {
		t.Error("Get returned the wrong session")
	}

	m.Remove("a")
	m.Remove("a") // unknown ids are a no-op
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1 after remove", m.Len())
	}
	if m.Get("a") != nil {
		t.Error("removed session still resolvable")
	}
}

func TestManagerShutdownClosesAllSessions(t *testing.T) {
	m := NewManager(nil, nil)
	sessions := []*Session{newManagedSession("a"), newManagedSession("b"), newManagedSession("c")}
	for _, s := range sessions {
		m.Add(s)
	}

	m.Shutdown()

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatalf("session %s not closed by shutdown", s.ID())
		}
		code, _ := s.CloseStatus()
		if code != protocol.CloseNormal {
			t.Errorf("session %s close code = %d, want 1000", s.ID(), code)
		}
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0 after shutdown", m.Len())
	}
}
