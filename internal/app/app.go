// Package app wires all Vocata subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the WebSocket and metrics listeners, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject mock implementations via functional options
// (WithTranscriber, WithLLM, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocata-ai/vocata/internal/config"
	"github.com/vocata-ai/vocata/internal/health"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/resilience"
	"github.com/vocata-ai/vocata/internal/router"
	"github.com/vocata-ai/vocata/internal/router/skill"
	"github.com/vocata-ai/vocata/internal/server"
	"github.com/vocata-ai/vocata/internal/session"
	"github.com/vocata-ai/vocata/internal/stagedtts"
	sttpool "github.com/vocata-ai/vocata/internal/stt"
	"github.com/vocata-ai/vocata/pkg/provider/llm"
	"github.com/vocata-ai/vocata/pkg/provider/llm/anyllm"
	"github.com/vocata-ai/vocata/pkg/provider/llm/flowise"
	"github.com/vocata-ai/vocata/pkg/provider/llm/openaicompat"
	"github.com/vocata-ai/vocata/pkg/provider/stt"
	"github.com/vocata-ai/vocata/pkg/provider/stt/whisper"
	"github.com/vocata-ai/vocata/pkg/provider/tts"
	"github.com/vocata-ai/vocata/pkg/provider/tts/kokoro"
	"github.com/vocata-ai/vocata/pkg/provider/tts/piper"
	"github.com/vocata-ai/vocata/pkg/provider/tts/zonos"
)

// App owns all subsystem lifetimes and serves the voice pipeline.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observe.Metrics
	version string

	// Subsystems — initialised in New, torn down in Shutdown.
	transcriber stt.Transcriber
	pool        *sttpool.Pool
	registry    *stagedtts.EngineRegistry
	speech      *stagedtts.Orchestrator
	llm         llm.Provider
	intents     *router.Router
	ws          *server.Server
	opsHandler  http.Handler
	opsSrv      *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithTranscriber injects an STT transcriber instead of loading whisper from
// config. The worker pool still wraps it.
func WithTranscriber(t stt.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithLLM injects an LLM provider instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithVersion sets the version reported as the OTel service version.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics provider ──────────────────────────────────────────────
	if err := a.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 2. Speech-to-text pool ───────────────────────────────────────────
	if err := a.initSTT(); err != nil {
		return nil, fmt.Errorf("app: init stt: %w", err)
	}

	// ── 3. Synthesis engines + orchestrator ──────────────────────────────
	if err := a.initSpeech(); err != nil {
		return nil, fmt.Errorf("app: init tts: %w", err)
	}

	// ── 4. Intent router ─────────────────────────────────────────────────
	if err := a.initIntents(); err != nil {
		return nil, fmt.Errorf("app: init router: %w", err)
	}

	// ── 5. WebSocket transport ───────────────────────────────────────────
	ws, err := server.New(cfg, session.Deps{
		STT:    a.pool,
		Router: a.intents,
		TTS:    a.speech,
	}, server.WithLogger(a.logger), server.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}
	a.ws = ws

	// ── 6. Metrics + health listener ─────────────────────────────────────
	a.initOps()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObservability installs the OTel meter provider with its Prometheus
// exporter and binds the shared metrics instruments.
func (a *App) initObservability(ctx context.Context) error {
	promHandler, shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vocata",
		ServiceVersion: a.version,
	})
	if err != nil {
		return err
	}
	a.opsHandler = promHandler
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})

	a.metrics = observe.DefaultMetrics()
	return nil
}

// initSTT loads the whisper adapter (unless a transcriber was injected) and
// wraps it in the worker pool.
func (a *App) initSTT() error {
	if a.transcriber == nil {
		adapter, err := whisper.New(a.cfg.STT.Model,
			whisper.WithModelsDir(a.cfg.STT.ModelsDir),
			whisper.WithLanguage(a.cfg.STT.Language),
			whisper.WithGPU(a.cfg.STT.Device != config.DeviceCPU),
			whisper.WithLogger(a.logger),
		)
		if err != nil {
			return err
		}
		a.transcriber = adapter
	}

	a.pool = sttpool.NewPool(a.transcriber, a.cfg.STT.Workers,
		sttpool.WithLogger(a.logger), sttpool.WithMetrics(a.metrics))
	// Pool.Close also closes the transcriber.
	a.closers = append(a.closers, a.pool.Close)
	return nil
}

// initSpeech builds the engine registry from the configured endpoints and the
// staged synthesis orchestrator on top of it. Every engine server sits behind
// its own circuit breaker. Cross-engine failover stays with the orchestrator's
// per-chunk fallback: it attributes each chunk (and each fingerprint cache
// entry) to the engine that actually produced the audio.
func (a *App) initSpeech() error {
	a.registry = stagedtts.NewEngineRegistry(a.cfg.EffectiveVoices(), a.logger)

	engines, err := a.buildEngines()
	if err != nil {
		return err
	}
	for _, e := range engines {
		a.registry.Register(e.Name(), breakerEngine(e))
	}
	if len(engines) == 0 {
		a.logger.Warn("no tts engine endpoints configured, synthesis will fail")
	}

	var cache *stagedtts.Cache
	if a.cfg.Staged.EnableCaching {
		cache, err = stagedtts.NewCache(a.cfg.Staged.CacheSize, a.metrics)
		if err != nil {
			return err
		}
	}

	post := stagedtts.PostProcessor{
		TargetRate:  a.cfg.TTS.TargetSampleRate,
		Normalize:   a.cfg.TTS.LoudnessNormalize,
		CeilingDBFS: a.cfg.TTS.LimiterCeilingDBFS,
	}

	a.speech = stagedtts.New(a.registry, cache, post,
		stagedtts.WithLogger(a.logger), stagedtts.WithMetrics(a.metrics))
	return nil
}

// breakerEngine wraps one engine server in a circuit breaker so a dead
// endpoint fails fast instead of eating the per-chunk deadline. No other
// engine is registered behind it.
func breakerEngine(e tts.Engine) stagedtts.EngineFactory {
	return func() (tts.Engine, error) {
		return resilience.NewEngineFallback(e, resilience.FallbackConfig{}), nil
	}
}

// buildEngines creates one engine adapter per configured endpoint, in
// preference order.
func (a *App) buildEngines() ([]tts.Engine, error) {
	var engines []tts.Engine
	if url := a.cfg.TTS.PiperURL; url != "" {
		e, err := piper.New(url, piper.WithDefaultVoice(a.cfg.TTS.Voice))
		if err != nil {
			return nil, fmt.Errorf("piper: %w", err)
		}
		engines = append(engines, e)
	}
	if url := a.cfg.TTS.ZonosURL; url != "" {
		e, err := zonos.New(url)
		if err != nil {
			return nil, fmt.Errorf("zonos: %w", err)
		}
		engines = append(engines, e)
	}
	if url := a.cfg.TTS.KokoroURL; url != "" {
		e, err := kokoro.New(url)
		if err != nil {
			return nil, fmt.Errorf("kokoro: %w", err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// initIntents assembles the skill registry, the LLM backend, and the webhook
// step into the intent router.
func (a *App) initIntents() error {
	skills := skill.NewRegistry()
	for _, name := range a.cfg.Skills.Enabled {
		s, err := skill.ForName(name)
		if err != nil {
			return err
		}
		skills.Register(s)
		a.logger.Info("skill enabled", "skill", name)
	}

	if a.llm == nil && a.cfg.LLM.Provider != "" {
		p, err := newLLMProvider(a.cfg.LLM)
		if err != nil {
			return err
		}
		a.llm = p
		a.logger.Info("llm backend configured", "provider", p.Name())
	}

	ropts := []router.Option{
		router.WithSkills(skills),
		router.WithRetry(routerRetry(a.cfg.Retry)),
		router.WithLogger(a.logger),
		router.WithMetrics(a.metrics),
	}
	if a.llm != nil {
		ropts = append(ropts, router.WithLLM(a.llm))
	}
	if a.cfg.Webhook.URL != "" {
		hook, err := router.NewWebhook(a.cfg.Webhook.URL,
			router.WithWebhookToken(a.cfg.Webhook.Token),
			router.WithWebhookKeywords(a.cfg.Webhook.Keywords),
			router.WithWebhookAck(a.cfg.Webhook.Ack),
		)
		if err != nil {
			return err
		}
		ropts = append(ropts, router.WithWebhook(hook))
	}

	a.intents = router.New(ropts...)
	return nil
}

// routerRetry maps the retry schema onto the router's retry law.
func routerRetry(cfg config.RetryConfig) router.RetryConfig {
	return router.RetryConfig{
		Attempts: cfg.Limit,
		Base:     cfg.Backoff,
		Cap:      cfg.BackoffCap,
	}
}

// newLLMProvider selects the LLM backend from the provider string: "flowise",
// "openai", or "anyllm:<backend>".
func newLLMProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch {
	case cfg.Provider == "flowise":
		var opts []flowise.Option
		if cfg.FlowiseToken != "" {
			opts = append(opts, flowise.WithToken(cfg.FlowiseToken))
		}
		return flowise.New(cfg.FlowiseURL, cfg.FlowiseID, opts...)

	case cfg.Provider == "openai":
		var opts []openaicompat.Option
		if cfg.BaseURL != "" {
			opts = append(opts, openaicompat.WithBaseURL(cfg.BaseURL))
		}
		return openaicompat.New(cfg.APIKey, cfg.Model, opts...)

	case strings.HasPrefix(cfg.Provider, "anyllm:"):
		backend := strings.TrimPrefix(cfg.Provider, "anyllm:")
		return anyllm.New(backend, cfg.Model)

	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", cfg.Provider)
	}
}

// initOps builds the metrics/health listener: /metrics from the Prometheus
// exporter, /health endpoints from the checkers, everything behind the HTTP
// metrics middleware.
func (a *App) initOps() {
	wsAddr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	checker := health.New(
		health.TCPAccept("websocket", wsAddr),
		health.Checker{Name: "stt", Check: a.pool.Responsive},
		health.Checker{Name: "tts", Check: a.registry.AnyLoadable},
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.opsHandler)
	checker.Register(mux)

	a.opsSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.MetricsPort),
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the WebSocket and metrics listeners until ctx is cancelled or
// either listener fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ws.Run(gctx)
	})

	g.Go(func() error {
		a.logger.Info("metrics server listening", "addr", a.opsSrv.Addr)
		if err := a.opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: metrics listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.opsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, the remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
