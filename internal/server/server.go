// Package server exposes the analysis engine over HTTP.
//
// Uploads are answered immediately with 202 and analysed in the background;
// clients poll the record or follow its progress over a WebSocket. The
// package also serves the pure helpers (timestamp estimation, fusion of an
// already fetched job payload and the demo dataset) so a viewer needs no
// other backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kavehfayyazi/tremolo/internal/engine"
	"github.com/kavehfayyazi/tremolo/internal/health"
	"github.com/kavehfayyazi/tremolo/internal/observe"
	"github.com/kavehfayyazi/tremolo/internal/store"
	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// Defaults for [Config] fields left at their zero value.
const (
	DefaultMaxUploadBytes  int64 = 512 << 20
	DefaultAnalysisTimeout       = 15 * time.Minute
	DefaultWriteTimeout          = 10 * time.Second
)

// Analyzer is the part of [engine.Engine] the server drives.
type Analyzer interface {
	AnalyzeOrDemo(ctx context.Context, filename string, r io.Reader, opts ...engine.RunOption) (*types.Analysis, error)
	FromStatus(ctx context.Context, jobID string, st *types.JobStatus, opts ...engine.RunOption) (*types.Analysis, error)
}

var _ Analyzer = (*engine.Engine)(nil)

// Config holds the tunables of a [Server].
type Config struct {
	// MaxUploadBytes caps the request body of an upload.
	MaxUploadBytes int64

	// AnalysisTimeout bounds one background analysis, upload included.
	AnalysisTimeout time.Duration

	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration

	// SpoolDir receives uploads while they wait for analysis. Empty means the
	// OS temp directory.
	SpoolDir string
}

// Option configures a [Server].
type Option func(*Server)

// WithConfig sets the tunables. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		if cfg.MaxUploadBytes > 0 {
			s.cfg.MaxUploadBytes = cfg.MaxUploadBytes
		}
		if cfg.AnalysisTimeout > 0 {
			s.cfg.AnalysisTimeout = cfg.AnalysisTimeout
		}
		if cfg.WriteTimeout > 0 {
			s.cfg.WriteTimeout = cfg.WriteTimeout
		}
		s.cfg.SpoolDir = cfg.SpoolDir
	}
}

// WithMetrics wraps every route in [observe.Middleware].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetricsHandler mounts h, usually promhttp.Handler(), at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// Server is the HTTP front of the engine. Create with [New] and mount
// [Server.Handler]; call [Server.Shutdown] after the HTTP server stopped.
type Server struct {
	analyzer       Analyzer
	store          store.Store
	cfg            Config
	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a [Server] running analyses on analyzer and recording them in
// st.
func New(analyzer Analyzer, st store.Store, opts ...Option) *Server {
	s := &Server{
		analyzer: analyzer,
		store:    st,
		cfg: Config{
			MaxUploadBytes:  DefaultMaxUploadBytes,
			AnalysisTimeout: DefaultAnalysisTimeout,
			WriteTimeout:    DefaultWriteTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/analyses", s.handleCreate)
	mux.HandleFunc("GET /api/analyses", s.handleList)
	mux.HandleFunc("GET /api/analyses/{id}", s.handleGet)
	mux.HandleFunc("GET /api/analyses/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/analyses/{id}/timestamps", s.handleTimestamps)
	mux.HandleFunc("GET /api/analyses/{id}/words", s.handleWords)
	mux.HandleFunc("POST /api/fuse", s.handleFuse)
	mux.HandleFunc("GET /api/demo", s.handleDemo)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// Shutdown cancels running analyses and waits for their goroutines to record
// a final state, or until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: waiting for analyses: %w", ctx.Err())
	}
}

// Wait blocks until every background analysis has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// analyze runs one background analysis of the spooled upload and records the
// outcome. The spool file is removed afterwards.
func (s *Server) analyze(id, filename string, spool *spooled) {
	defer s.wg.Done()
	defer spool.Remove()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.AnalysisTimeout)
	defer cancel()
	log := slog.With("analysis_id", id)

	progress := engine.WithProgress(func(p engine.Progress) {
		_, err := s.store.Update(ctx, id, func(r *store.Record) {
			r.State = types.JobProcessing
			r.Stage = p.Stage
			if p.JobID != "" {
				r.JobID = p.JobID
			}
			if p.Attempt > 0 {
				r.Attempts = p.Attempt
			}
		})
		if err != nil {
			log.Debug("progress not recorded", "stage", p.Stage, "err", err)
		}
	})

	a, err := s.analyzer.AnalyzeOrDemo(ctx, filename, spool, progress)
	_, uerr := s.store.Update(context.WithoutCancel(ctx), id, func(r *store.Record) {
		if err != nil {
			r.State = types.JobError
			r.Error = err.Error()
			return
		}
		r.State = types.JobComplete
		r.Analysis = a
		r.JobID = a.JobID
	})
	switch {
	case uerr != nil && !errors.Is(uerr, store.ErrNotFound):
		log.Warn("final state not recorded", "err", uerr)
	case err != nil:
		log.Warn("analysis failed", "err", err)
	default:
		log.Info("analysis finished", "source", a.Source, "markers", len(a.Markers))
	}
}
