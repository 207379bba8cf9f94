// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Req is the request passed to Complete.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// Reply is returned by Complete. An intentionally empty reply is
	// configured by leaving Reply empty and setting ReplyEmpty.
	Reply string

	// ReplyEmpty forces Complete to return "" with a nil error.
	ReplyEmpty bool

	// Err, if non-nil, is returned by Complete.
	Err error

	// Delay is slept (honouring ctx) before Complete returns.
	Delay time.Duration

	// ModelsResult is returned by Models. Defaults to ["mock-model"].
	ModelsResult []string

	// --- Call records ---

	// CompleteCalls records every call to Complete in order.
	CompleteCalls []CompleteCall
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Complete records the call and returns the configured reply or error.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Req: req})
	reply := p.Reply
	empty := p.ReplyEmpty
	err := p.Err
	delay := p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if empty {
		return "", nil
	}
	if reply == "" {
		reply = "Das habe ich verstanden."
	}
	return reply, nil
}

// Models returns ModelsResult, or a single-entry default.
func (p *Provider) Models(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModelsResult != nil {
		return p.ModelsResult, nil
	}
	return []string{"mock-model"}, nil
}

// Calls returns a copy of the recorded Complete calls. Thread-safe.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
