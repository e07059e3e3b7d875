// Package app wires the tremolo subsystems into a running service.
//
// New builds the analysis backend client, circuit breaker, feedback sources,
// engine, record store and HTTP API from a [config.Config]. Run serves until
// its context is cancelled, and Shutdown drains running analyses and releases
// everything in order.
//
// Tests inject doubles through functional options (WithBackend, WithRegistry,
// WithMetrics). Anything not injected is created from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kavehfayyazi/tremolo/internal/config"
	"github.com/kavehfayyazi/tremolo/internal/engine"
	"github.com/kavehfayyazi/tremolo/internal/feedback"
	"github.com/kavehfayyazi/tremolo/internal/health"
	"github.com/kavehfayyazi/tremolo/internal/observe"
	"github.com/kavehfayyazi/tremolo/internal/poller"
	"github.com/kavehfayyazi/tremolo/internal/resilience"
	"github.com/kavehfayyazi/tremolo/internal/scoring"
	"github.com/kavehfayyazi/tremolo/internal/server"
	"github.com/kavehfayyazi/tremolo/internal/store"
	"github.com/kavehfayyazi/tremolo/internal/transcript"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis"
	"github.com/kavehfayyazi/tremolo/pkg/provider/analysis/httpapi"
)

// Timeouts used by the HTTP listener and the shutdown sequence.
const (
	readHeaderTimeout = 10 * time.Second
	httpStopTimeout   = 10 * time.Second
)

// pinger is implemented by backends that support a reachability probe.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	backend  analysis.Provider
	guard    *resilience.GuardedProvider
	registry *config.Registry
	metrics  *observe.Metrics
	engine   *engine.Engine
	store    *store.MemStore
	server   *server.Server
	http     *http.Server

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for [New].
type Option func(*App)

// WithBackend injects an analysis backend instead of the HTTP client built
// from backend.base_url.
func WithBackend(p analysis.Provider) Option {
	return func(a *App) { a.backend = p }
}

// WithRegistry injects the LLM provider registry. Default: a registry with
// the built-in providers, see [RegisterBuiltinLLMs].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects the metric instruments. Default when server.metrics is
// enabled: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCloser registers fn to run during [App.Shutdown], after the HTTP
// server and running analyses have stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New wires every subsystem from cfg. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil && config.Enabled(cfg.Server.Metrics) {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinLLMs(a.registry)
	}

	// ── 1. Analysis backend ──────────────────────────────────────────────
	if a.backend == nil {
		p, err := httpapi.New(cfg.Backend.BaseURL, httpapi.WithTimeout(cfg.Backend.Timeout))
		if err != nil {
			return nil, fmt.Errorf("app: init backend: %w", err)
		}
		a.backend = p
	}
	backend := a.backend
	if config.Enabled(cfg.Backend.Breaker.Enabled) {
		a.guard = resilience.NewGuardedProvider(backend, a.breakerConfig())
		backend = a.guard
	}

	// ── 2. AI feedback ───────────────────────────────────────────────────
	src, err := BuildFeedbackSource(cfg.Feedback, backend, a.registry)
	if err != nil {
		return nil, fmt.Errorf("app: init feedback: %w", err)
	}

	// ── 3. Engine ────────────────────────────────────────────────────────
	engineOpts := []engine.Option{
		engine.WithPollerConfig(poller.Config{
			MaxAttempts: cfg.Poller.MaxAttempts,
			Interval:    cfg.Poller.Interval,
		}),
		engine.WithFuser(transcript.NewFuser(transcript.WithConfig(fusionConfig(cfg.Fusion)))),
		engine.WithScorer(scoring.New(scoring.WithConfig(scoringConfig(cfg.Scoring, cfg.Fusion.Tags)))),
		engine.WithDemoFallback(config.Enabled(cfg.Demo.Fallback)),
	}
	if src != nil {
		placeholder := feedback.Range{Start: cfg.Feedback.Placeholder.Start, End: cfg.Feedback.Placeholder.End}
		engineOpts = append(engineOpts, engine.WithAnnotator(feedback.NewAnnotator(src, feedback.WithPlaceholder(placeholder))))
	}
	if a.metrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(a.metrics))
	}
	a.engine = engine.New(backend, engineOpts...)

	// ── 4. Store, probes and HTTP API ────────────────────────────────────
	a.store = store.NewMemStore()

	var checkers []health.Checker
	if p, ok := a.backend.(pinger); ok {
		checkers = append(checkers, health.PingCheck("backend", p.Ping))
	}
	if a.guard != nil {
		checkers = append(checkers, health.BreakerCheck(a.guard.Breaker()))
	}

	serverOpts := []server.Option{
		server.WithConfig(server.Config{
			MaxUploadBytes:  cfg.Server.MaxUploadMB << 20,
			AnalysisTimeout: cfg.Server.AnalysisTimeout,
			SpoolDir:        cfg.Server.SpoolDir,
		}),
		server.WithHealth(health.New(checkers)),
	}
	if a.metrics != nil {
		serverOpts = append(serverOpts,
			server.WithMetrics(a.metrics),
			server.WithMetricsHandler(promhttp.Handler()),
		)
	}
	a.server = server.New(a.engine, a.store, serverOpts...)
	a.http = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	slog.Info("app initialised",
		"backend", cfg.Backend.BaseURL,
		"breaker", a.guard != nil,
		"feedback_sources", cfg.Feedback.Sources,
		"demo_fallback", config.Enabled(cfg.Demo.Fallback),
		"metrics", a.metrics != nil,
	)
	return a, nil
}

// Engine returns the analysis engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Metrics returns the metric instruments, or nil when metrics are disabled.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// Store returns the analysis record store.
func (a *App) Store() *store.MemStore { return a.store }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.http.Handler }

// Run serves the HTTP API and prunes old records until ctx is cancelled or
// the listener fails. It returns nil after a clean stop.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	slog.Info("http api listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.http.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		a.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpStopTimeout)
		defer cancel()
		if err := a.http.Shutdown(stopCtx); err != nil {
			return fmt.Errorf("app: stop http: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// pruneLoop drops finished records older than server.retention.
func (a *App) pruneLoop(ctx context.Context) {
	retention := a.cfg.Server.Retention
	every := max(retention/4, time.Second)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := a.store.Prune(ctx, retention); n > 0 {
				slog.Debug("pruned finished analyses", "count", n)
			}
		}
	}
}

// Shutdown cancels running analyses, waits for them to record a final state
// and runs the registered closers. Remaining steps are skipped once ctx
// expires and its error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.http.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		if err := a.server.Shutdown(ctx); err != nil {
			shutdownErr = err
			return
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (a *App) breakerConfig() resilience.CircuitBreakerConfig {
	br := a.cfg.Backend.Breaker
	cbCfg := resilience.CircuitBreakerConfig{
		Name:         "analysis-backend",
		MaxFailures:  br.MaxFailures,
		ResetTimeout: br.ResetTimeout,
		HalfOpenMax:  br.HalfOpenMax,
	}
	if m := a.metrics; m != nil {
		cbCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
	return cbCfg
}

// fusionConfig overlays the configured heuristics on
// [transcript.DefaultConfig]. Empty tag names are filled in by the fuser.
func fusionConfig(c config.FusionConfig) transcript.Config {
	out := transcript.DefaultConfig()
	if c.BodyLanguageCap != nil {
		out.BodyLanguageCap = *c.BodyLanguageCap
	}
	setIf(&out.VocalDedupSeconds, c.VocalDedupSeconds)
	setIf(&out.GestureGraceSeconds, c.GestureGraceSeconds)
	setIf(&out.MonotoneDeviation, c.MonotoneDeviation)
	setIf(&out.MonotoneMinStartSeconds, c.MonotoneMinStartSeconds)
	if len(c.FillerWords) > 0 {
		out.FillerWords = c.FillerWords
	}
	out.FillerTag = c.Tags.Filler
	out.LowGestureTags = c.Tags.LowGesture
	out.GestureTags = c.Tags.Gesture
	out.PitchWobbleTag = c.Tags.PitchWobble
	out.FallingIntonationTag = c.Tags.FallingIntonation
	return out
}

// scoringConfig overlays the configured constants on
// [scoring.DefaultConfig]. The active gesture tags come from the fusion tag
// settings so the fuser and scorer agree on tag names.
func scoringConfig(c config.ScoringConfig, tags config.TagsConfig) scoring.Config {
	out := scoring.DefaultConfig()
	setIf(&out.FluencyThreshold, c.FluencyThreshold)
	setIf(&out.FillerPenalty, c.FillerPenalty)
	setIf(&out.VocalPenalty, c.VocalPenalty)
	setIf(&out.BodyLanguagePenalty, c.BodyLanguagePenalty)
	setIf(&out.GestureBase, c.GestureBase)
	setIf(&out.GestureGain, c.GestureGain)
	if w := c.Weights; w != nil {
		out.Weights = scoring.Weights{Speech: w.Speech, Vocal: w.Vocal, BodyLanguage: w.BodyLanguage}
	}
	if len(tags.ActiveGesture) > 0 {
		out.ActiveGestureTags = tags.ActiveGesture
	}
	return out
}

func setIf(dst, v *float64) {
	if v != nil {
		*dst = *v
	}
}
