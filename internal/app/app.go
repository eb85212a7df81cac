// Package app wires all Voxcal subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the pipeline schedule and the HTTP endpoints,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/eventstore"
	"github.com/MrWong99/voxcal/internal/health"
	"github.com/MrWong99/voxcal/internal/notifier"
	"github.com/MrWong99/voxcal/internal/observe"
	"github.com/MrWong99/voxcal/internal/orchestrator"
	"github.com/MrWong99/voxcal/internal/parser"
	"github.com/MrWong99/voxcal/internal/publisher"
	"github.com/MrWong99/voxcal/internal/resilience"
	"github.com/MrWong99/voxcal/pkg/provider/calendar"
	"github.com/MrWong99/voxcal/pkg/provider/filestore"
	"github.com/MrWong99/voxcal/pkg/provider/llm"
	"github.com/MrWong99/voxcal/pkg/provider/mailer"
	"github.com/MrWong99/voxcal/pkg/provider/transcriber"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go from the config.
type Providers struct {
	LLM                 llm.Provider
	Transcriber         transcriber.Provider
	TranscriberFallback transcriber.Provider
	Filestore           filestore.Source
	Calendar            calendar.Provider
	Mailer              mailer.Provider
}

// App owns all subsystem lifetimes and orchestrates the voice-to-calendar
// pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	pool      *pgxpool.Pool
	store     eventstore.Store
	parser    *parser.Parser
	publisher *publisher.Publisher
	notifier  *notifier.Notifier
	orch      *orchestrator.Orchestrator
	metrics   *observe.Metrics
	httpSrv   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an event store instead of connecting to PostgreSQL.
func WithStore(s eventstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go. New connects to the database, migrates any
// legacy schema, creates the current one, and assembles the pipeline.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initHTTP()

	return a, nil
}

// initStore connects to PostgreSQL (unless a store was injected), brings
// a legacy database up to the current schema, and creates missing tables.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		pool, err := eventstore.NewPool(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.store = eventstore.NewPostgresStore(pool)
		slog.Info("connected to database",
			"host", a.cfg.Database.Host, "name", a.cfg.Database.Name,
			"pool_min", a.cfg.Database.PoolMin, "pool_max", a.cfg.Database.PoolMax)
	}

	if err := a.store.MigrateLegacySchema(ctx); err != nil {
		return err
	}
	return a.store.Initialize(ctx)
}

// initPipeline assembles parser, publisher, notifier, and orchestrator
// from the configured providers.
func (a *App) initPipeline() error {
	if a.providers.LLM == nil {
		return errors.New("an LLM provider is required")
	}
	if a.providers.Transcriber == nil {
		return errors.New("a transcriber provider is required")
	}
	if a.providers.Filestore == nil {
		return errors.New("a filestore provider is required")
	}
	if a.providers.Calendar == nil {
		return errors.New("a calendar provider is required")
	}

	a.parser = parser.New(a.providers.LLM)
	a.publisher = publisher.New(a.providers.Calendar, a.store)

	group := resilience.NewFallbackGroup[transcriber.Provider](
		a.providers.Transcriber, a.cfg.Providers.Transcriber.Name)
	if a.providers.TranscriberFallback != nil {
		group.AddFallback(a.cfg.Providers.TranscriberFallback.Name, a.providers.TranscriberFallback)
	}

	orchOpts := []orchestrator.Option{orchestrator.WithMetrics(a.metrics)}
	if a.providers.Mailer != nil {
		a.notifier = notifier.New(a.store, a.providers.Mailer, a.cfg.Notify)
		orchOpts = append(orchOpts, orchestrator.WithNotifier(a.notifier, a.cfg.Notify.Interval()))
	}
	a.orch = orchestrator.New(a.cfg.Pipeline, a.providers.Filestore, group,
		a.parser, a.publisher, a.store, orchOpts...)
	return nil
}

// initHTTP builds the mux for health probes and the Prometheus scrape
// endpoint. The server itself starts in Run when a listen address is
// configured.
func (a *App) initHTTP() {
	checkers := []health.Checker{}
	if a.pool != nil {
		pool := a.pool
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: func(ctx context.Context) error { return pool.Ping(ctx) },
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run starts the HTTP endpoints and the pipeline schedule and blocks
// until ctx is cancelled or a subsystem fails fatally.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr != "" {
		errCh := make(chan error, 1)
		go func() {
			slog.Info("http endpoints listening", "addr", a.cfg.Server.ListenAddr)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		a.closers = append(a.closers, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(closeCtx)
		})

		runErr := make(chan error, 1)
		go func() { runErr <- a.orch.Run(ctx) }()
		select {
		case err := <-errCh:
			return fmt.Errorf("app: http server: %w", err)
		case err := <-runErr:
			return err
		}
	}

	return a.orch.Run(ctx)
}

// RunOnce triggers a single pipeline run outside the schedule.
func (a *App) RunOnce(ctx context.Context) (*orchestrator.RunSummary, error) {
	return a.orch.RunOnce(ctx)
}

// Shutdown tears down all subsystems in order. Safe to call more than
// once; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
