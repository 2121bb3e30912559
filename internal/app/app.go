// Package app wires all Sentinel subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and the background reaper until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithClassifier). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soundsentinel/sentinel/internal/assembler"
	"github.com/soundsentinel/sentinel/internal/config"
	"github.com/soundsentinel/sentinel/internal/health"
	"github.com/soundsentinel/sentinel/internal/hub"
	"github.com/soundsentinel/sentinel/internal/matcher"
	"github.com/soundsentinel/sentinel/internal/observe"
	"github.com/soundsentinel/sentinel/internal/pipeline"
	"github.com/soundsentinel/sentinel/internal/policy"
	"github.com/soundsentinel/sentinel/internal/server"
	"github.com/soundsentinel/sentinel/pkg/classify"
	"github.com/soundsentinel/sentinel/pkg/store"
	"github.com/soundsentinel/sentinel/pkg/store/postgres"
)

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes and serves the Sentinel detection API.
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	classifier classify.Provider
	store      store.Store
	assembler  *assembler.Assembler
	hub        *hub.Hub
	pipeline   *pipeline.Pipeline
	api        *server.Server
	httpServer *http.Server
	metrics    *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a persistence layer instead of connecting to PostgreSQL
// from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithClassifier injects the acoustic classifier. Required unless the config
// registry created one in main.
func WithClassifier(p classify.Provider) Option {
	return func(a *App) { a.classifier = p }
}

// WithLogger sets the logger for all subsystems. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The classifier comes
// from main (created via the config registry) unless injected with
// WithClassifier.
//
// New performs all initialisation synchronously: store connection and schema
// migration, assembler and hub construction, pipeline assembly, and the HTTP
// server. Nothing starts serving until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.classifier == nil {
		return nil, fmt.Errorf("app: no classifier configured")
	}
	a.metrics = observe.DefaultMetrics()

	// ── 1. Persistence ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Packet assembler ──────────────────────────────────────────────
	a.assembler = assembler.New(
		assembler.WithMaxSegmentAge(cfg.Assembler.MaxSegmentAge.Std()),
		assembler.WithReapInterval(cfg.Assembler.ReapInterval.Std()),
		assembler.WithLogger(a.log),
		assembler.WithReapCallback(func(_, _ string, _, _ int) {
			a.metrics.SegmentsReaped.Add(context.Background(), 1)
			a.metrics.ActiveSegments.Add(context.Background(), -1)
		}),
	)

	// ── 3. Event hub ─────────────────────────────────────────────────────
	a.hub = hub.New(
		hub.WithBufferSize(cfg.Hub.BufferSize),
		hub.WithLogger(a.log),
		hub.WithDropCallback(func() {
			a.metrics.BroadcastDrops.Add(context.Background(), 1)
		}),
	)

	// ── 4. Detection pipeline ────────────────────────────────────────────
	a.pipeline = pipeline.New(
		a.classifier,
		matcher.New(a.store, a.log),
		policy.NewResolver(a.store),
		a.store,
		a.hub,
		a.metrics,
		a.log,
	)

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL and runs migrations, unless a store was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("storage.postgres_dsn is required when no store is injected")
	}

	pg, err := postgres.NewStore(ctx, dsn, a.cfg.Storage.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	a.log.Info("connected to postgres", "embedding_dimensions", a.cfg.Storage.EmbeddingDimensions)
	return nil
}

// buildHandler assembles the API surface with its readiness checks.
func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{
		health.ClassifierChecker(a.classifier.Labels),
	}
	if pg, ok := a.store.(*postgres.Store); ok {
		checkers = append(checkers, health.DatabaseChecker(pg.Ping))
	}

	a.api = server.New(
		a.assembler,
		a.pipeline,
		a.hub,
		a.store,
		a.classifier,
		health.New(checkers...),
		a.metrics,
		a.log,
		server.WithDefaultThreshold(a.cfg.Matching.DefaultThreshold),
	)
	return a.api.Handler()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the HTTP listener and the stale-segment reaper and blocks until
// ctx is cancelled or the listener fails. The listener is drained before Run
// returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.assembler.Run(ctx)
	})

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		var err error
		if tls != nil {
			a.log.Info("listening", "addr", a.httpServer.Addr, "tls", true)
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("listening", "addr", a.httpServer.Addr, "tls", false)
			err = a.httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpServer.Shutdown(drainCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		// Disconnect websocket subscribers first so clients see a clean close.
		a.hub.Close()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ApplyConfigChange applies the hot-reloadable parts of a config diff to the
// running subsystems. The log level is handled by the caller via its
// slog.LevelVar.
func (a *App) ApplyConfigChange(diff config.ConfigDiff) {
	if !diff.Any() {
		return
	}
	if diff.AssemblerChanged {
		a.assembler.SetTimings(diff.NewMaxSegmentAge.Std(), diff.NewReapInterval.Std())
		a.log.Info("assembler timings updated",
			"max_segment_age", diff.NewMaxSegmentAge.Std(),
			"reap_interval", diff.NewReapInterval.Std(),
		)
	}
	if diff.HubChanged {
		a.hub.SetBufferSize(diff.NewBufferSize)
		a.log.Info("hub buffer size updated", "buffer_size", diff.NewBufferSize)
	}
	if diff.ThresholdChanged {
		a.api.SetDefaultThreshold(diff.NewThreshold)
		a.log.Info("default matching threshold updated", "threshold", diff.NewThreshold)
	}
}
