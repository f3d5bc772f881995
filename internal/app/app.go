// Package app builds the long-lived services of one harvest run from
// configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/api"
	"github.com/JakeFAU/session-harvester/internal/barrier"
	"github.com/JakeFAU/session-harvester/internal/clock/system"
	"github.com/JakeFAU/session-harvester/internal/config"
	"github.com/JakeFAU/session-harvester/internal/coordinator"
	"github.com/JakeFAU/session-harvester/internal/dedup"
	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/delivery/pubsub"
	"github.com/JakeFAU/session-harvester/internal/detector"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	idgen "github.com/JakeFAU/session-harvester/internal/id/uuid"
	"github.com/JakeFAU/session-harvester/internal/metrics"
	"github.com/JakeFAU/session-harvester/internal/operator"
	"github.com/JakeFAU/session-harvester/internal/pause"
	"github.com/JakeFAU/session-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/session-harvester/internal/progress"
	"github.com/JakeFAU/session-harvester/internal/stats"
	"github.com/JakeFAU/session-harvester/internal/store"
)

// Browser is what one worker needs from a live session.
type Browser interface {
	harvest.Session
	harvest.MicroBehavior
	detector.Prober
}

// Options override process-level collaborators, mainly for tests. Zero
// values use stdin, stdout, Chrome, the wall clock and a fresh registry.
type Options struct {
	In       io.Reader
	Out      io.Writer
	Browsers BrowserFactory
	Clock    harvest.Clock
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// App contains the run's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
	clock  harvest.Clock
	runID  uuid.UUID

	identities     []harvest.Identity
	seen           *dedup.Store
	seed           harvest.SeedSource
	stats          *stats.Aggregator
	reporter       *stats.Reporter
	console        *operator.Console
	pauser         *pause.Controller
	loginGate      *barrier.Gate
	extractionGate *barrier.Gate
	limiter        *ratelimit.Limiter
	archive        harvest.Archive
	sink           delivery.Sink
	browsers       BrowserFactory
	heuristic      *detector.Heuristic

	registry    *prometheus.Registry
	collectors  *metrics.Collectors
	progressHub *progress.Hub
	events      *progress.Recorder
	runRepo     store.RunRepository

	pool         *pgxpool.Pool
	gcsClient    *gcs.Client
	pubsubSink   *pubsub.Sink
	pubsubClient io.Closer
	httpServer   *http.Server
	closers      []func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	identities, err := cfg.ResolveIdentities(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve identities: %w", err)
	}
	a := &App{
		cfg:            cfg,
		logger:         opts.Logger,
		in:             opts.In,
		out:            opts.Out,
		clock:          opts.Clock,
		registry:       opts.Registry,
		browsers:       opts.Browsers,
		identities:     identities,
		seen:           dedup.New(),
		loginGate:      barrier.New("login"),
		extractionGate: barrier.New("extraction"),
	}
	a.applyDefaults()

	runID, err := idgen.New().NewRunID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	a.runID = runID
	a.logger = a.logger.With(zap.String("run_id", runID.String()))
	a.logger.Info("building application dependencies", zap.Int("identities", len(identities)))

	a.stats = stats.NewAggregator(a.clock.Now)
	a.reporter = stats.NewReporter(a.stats, a.out, cfg.Reporting.EveryNew, cfg.Reporting.EverySkipped)
	a.console = operator.NewConsole(a.out, a.logger.Named("operator"))
	a.pauser, err = pause.New(a.console, a.clock, a.logger.Named("pause"),
		pause.WithSettle(cfg.Pause.SettleTime), pause.WithOutput(a.out))
	if err != nil {
		return nil, fmt.Errorf("pause controller: %w", err)
	}
	a.heuristic = detector.NewHeuristic(cfg.Site.MinBodyChars, cfg.Site.LockoutMarkers, cfg.Site.ErrorMarkers)

	a.collectors, err = metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}
	a.limiter = ratelimit.New(ratelimit.Config{
		RecordsPerMinute: cfg.Extraction.MaxRecordsPerMinute,
		OnDelay:          a.collectors.ObserveRateLimitDelay,
	})

	steps := []func(context.Context) error{
		a.setupDatabase,
		a.setupSeed,
		a.setupArchive,
		a.setupSink,
		a.setupProgress,
		a.setupServer,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.closeInfrastructure(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *App) applyDefaults() {
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.in == nil {
		a.in = os.Stdin
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	if a.browsers == nil {
		a.browsers = ChromeBrowsers(a.cfg)
	}
}

// RunID identifies this run in events, the archive and the ledger.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Run seeds the dedup store, starts operator input and the API, and runs
// the coordinator until every worker finishes or ctx is canceled.
func (a *App) Run(ctx context.Context) (coordinator.Result, error) {
	if a.seed != nil {
		if err := a.loadSeed(ctx); err != nil {
			return coordinator.Result{}, err
		}
	} else {
		a.logger.Warn("no seed provider configured; every record is treated as new")
		if err := a.seen.Seed(nil); err != nil {
			return coordinator.Result{}, fmt.Errorf("seed dedup store: %w", err)
		}
	}

	a.console.Start(ctx, a.in)
	a.startServer()

	coord, err := coordinator.New(coordinator.Config{
		StartStagger:  a.cfg.Coordinator.StartStagger,
		ShutdownGrace: a.cfg.Coordinator.ShutdownGrace,
	}, coordinator.Deps{
		Identities:     a.identities,
		Factory:        a.newRunner,
		Confirmer:      a.console,
		LoginGate:      a.loginGate,
		ExtractionGate: a.extractionGate,
		Stats:          a.stats,
		Clock:          a.clock,
		Events:         a.events,
		Out:            a.out,
		Logger:         a.logger,
	})
	if err != nil {
		return coordinator.Result{}, fmt.Errorf("coordinator init failed: %w", err)
	}
	return coord.Run(ctx), nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.console.Close()
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Warn("http server shutdown failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubSink != nil {
		a.pubsubSink.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) startServer() {
	if a.httpServer == nil {
		return
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
		}
	}()
}

func (a *App) setupServer(context.Context) error {
	if !a.cfg.Server.Enabled {
		return nil
	}
	a.console.AllowRemote()
	srv, err := api.NewServer(api.Options{
		Stats:    a.stats,
		Operator: a.console,
		Gates:    []*barrier.Gate{a.loginGate, a.extractionGate},
		Runs:     a.runRepo,
		RunID:    a.runID,
		Gatherer: a.registry,
		Metrics:  a.collectors,
		APIKey:   a.cfg.Server.APIKey,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}
