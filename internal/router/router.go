// Package router resolves a transcribed utterance into a reply. Resolution is
// a fixed ladder: local skills first, then the configured LLM backend, then
// the automation webhook when its keyword policy matches, and finally a plain
// echo of the transcript so the user always gets a spoken reply.
//
// External backends are guarded twice: bounded exponential-backoff retries
// per call, and a circuit breaker per endpoint so a dead dependency fails
// fast instead of burning the retry budget on every utterance.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/protocol"
	"github.com/vocata-ai/vocata/internal/resilience"
	"github.com/vocata-ai/vocata/internal/router/skill"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
)

// errEmptyReply marks an LLM success that carried no usable text; treated as
// a routing failure.
var errEmptyReply = errors.New("router: llm returned empty reply")

// Result is the outcome of routing one utterance.
type Result struct {
	// Reply is the text to speak.
	Reply string

	// Source tells which rung produced the reply (protocol.Source*).
	Source string

	// Skill is the claiming skill's name when Source is "skill".
	Skill string

	// RoutingFailed reports that an external backend exhausted its retries
	// (or returned empty text) before the ladder fell through; the session
	// surfaces error{kind:routing_failed} before delivering the reply.
	RoutingFailed bool
}

// LLMOptions are the per-session language-model parameters for one route.
type LLMOptions struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	// History holds prior turns, already trimmed to the session's context
	// window.
	History []llm.Turn
}

// Option is a functional option for configuring a Router.
type Option func(*Router)

// WithSkills sets the skill registry consulted first.
func WithSkills(reg *skill.Registry) Option {
	return func(r *Router) { r.skills = reg }
}

// WithLLM sets the language-model backend. Nil disables the LLM rung.
func WithLLM(p llm.Provider) Option {
	return func(r *Router) { r.llm = p }
}

// WithWebhook sets the automation webhook. Nil disables the webhook rung.
func WithWebhook(w *Webhook) Option {
	return func(r *Router) { r.webhook = w }
}

// WithRetry sets the retry policy for external calls.
func WithRetry(cfg RetryConfig) Option {
	return func(r *Router) { r.retry = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router resolves utterances. Safe for concurrent use.
type Router struct {
	skills  *skill.Registry
	llm     llm.Provider
	webhook *Webhook
	retry   RetryConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	llmBreaker  *resilience.CircuitBreaker
	hookBreaker *resilience.CircuitBreaker
}

// New creates a Router. Without options it only echoes.
func New(opts ...Option) *Router {
	r := &Router{
		skills:  skill.NewRegistry(),
		retry:   RetryConfig{},
		logger:  slog.Default(),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "router")
	r.llmBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "llm"})
	r.hookBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "webhook"})
	return r
}

// Route walks the resolution ladder for one utterance. It always returns a
// usable Result; total failure degrades to echo with RoutingFailed set.
func (r *Router) Route(ctx context.Context, query, language string, llmOpts LLMOptions) Result {
	start := time.Now()
	res := r.route(ctx, query, language, llmOpts)
	r.metrics.RouteDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("source", res.Source)))
	return res
}

func (r *Router) route(ctx context.Context, query, language string, llmOpts LLMOptions) Result {
	// 1. Skills, in registration order.
	if s := r.skills.Resolve(query, language); s != nil {
		reply, err := s.Handle(ctx, query)
		if err == nil {
			r.logger.Debug("skill handled utterance", "skill", s.Name())
			return Result{Reply: reply, Source: protocol.SourceSkill, Skill: s.Name()}
		}
		r.logger.Warn("skill failed, continuing ladder", "skill", s.Name(), "error", err)
	}

	failed := false

	// 2. Language model.
	if r.llm != nil {
		reply, err := r.completeLLM(ctx, query, llmOpts)
		if err == nil {
			return Result{Reply: reply, Source: protocol.SourceLLM, RoutingFailed: failed}
		}
		failed = true
		r.logger.Warn("llm routing failed", "provider", r.llm.Name(), "error", err)
	}

	// 3. Automation webhook, keyword-gated.
	if r.webhook != nil && r.webhook.Matches(query) {
		err := r.hookBreaker.Execute(func() error {
			attempt := 0
			_, err := retryResult(ctx, r.retry, func() (struct{}, error) {
				if attempt++; attempt > 1 {
					r.countRetry(ctx, "webhook")
				}
				return struct{}{}, r.webhook.Trigger(ctx, query)
			})
			return err
		})
		if err == nil {
			return Result{Reply: r.webhook.Ack(), Source: protocol.SourceWebhook, RoutingFailed: failed}
		}
		failed = true
		r.logger.Warn("webhook routing failed", "error", err)
	}

	// 4. Echo.
	return Result{Reply: query, Source: protocol.SourceEcho, RoutingFailed: failed}
}

// completeLLM runs the LLM call under breaker and retry. An empty reply is a
// failure so the ladder can fall through.
func (r *Router) completeLLM(ctx context.Context, query string, opts LLMOptions) (string, error) {
	var reply string
	err := r.llmBreaker.Execute(func() error {
		attempt := 0
		out, err := retryResult(ctx, r.retry, func() (string, error) {
			if attempt++; attempt > 1 {
				r.countRetry(ctx, "llm")
			}
			text, err := r.llm.Complete(ctx, llm.Request{
				Query:        query,
				History:      opts.History,
				SystemPrompt: opts.SystemPrompt,
				Model:        opts.Model,
				Temperature:  opts.Temperature,
				MaxTokens:    opts.MaxTokens,
			})
			if err != nil {
				return "", err
			}
			if text == "" {
				return "", errEmptyReply
			}
			return text, nil
		})
		reply = out
		return err
	})
	return reply, err
}

// countRetry increments the retry counter for a repeated attempt.
func (r *Router) countRetry(ctx context.Context, target string) {
	r.metrics.Retries.Add(ctx, 1, metric.WithAttributes(observe.Attr("target", target)))
}

// Models lists the models of the configured LLM backend.
func (r *Router) Models(ctx context.Context) ([]string, error) {
	if r.llm == nil {
		return nil, errors.New("router: no llm backend configured")
	}
	return r.llm.Models(ctx)
}

// Provider returns the name of the configured LLM backend, or "".
func (r *Router) Provider() string {
	if r.llm == nil {
		return ""
	}
	return r.llm.Name()
}
