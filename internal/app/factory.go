package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/config"
	"github.com/JakeFAU/session-harvester/internal/coordinator"
	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/detector"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/humanize"
	"github.com/JakeFAU/session-harvester/internal/logging"
	"github.com/JakeFAU/session-harvester/internal/session/browser"
	"github.com/JakeFAU/session-harvester/internal/worker"
)

// BrowserFactory starts the browser session for one identity.
type BrowserFactory func(ctx context.Context, identity string, human *humanize.Humanizer, logger *zap.Logger) (Browser, error)

// ChromeBrowsers launches one Chrome window per identity from cfg.
func ChromeBrowsers(cfg config.Config) BrowserFactory {
	bcfg := browser.Config{
		Headless:       cfg.Browser.Headless,
		ExecPath:       cfg.Browser.ExecPath,
		UserAgents:     cfg.Browser.UserAgents,
		BaseURL:        cfg.Site.BaseURL,
		LoginPath:      cfg.Site.LoginPath,
		ListingPath:    cfg.Site.ListingPath,
		NavTimeout:     cfg.Browser.NavTimeout,
		WaitTimeout:    cfg.Browser.WaitTimeout,
		DetailsTimeout: cfg.Browser.DetailsTimeout,
		Selectors:      cfg.Site.Selectors,
	}
	return func(ctx context.Context, identity string, human *humanize.Humanizer, logger *zap.Logger) (Browser, error) {
		return browser.New(ctx, bcfg, identity, human, logger)
	}
}

func (a *App) skipWeights() []humanize.Weight {
	h := a.cfg.Humanize
	if h.SkipQuick+h.SkipScanThenSkip+h.SkipHesitate <= 0 {
		return humanize.DefaultWeights
	}
	return []humanize.Weight{
		{Profile: harvest.SkipQuick, Probability: h.SkipQuick},
		{Profile: harvest.SkipScanThenSkip, Probability: h.SkipScanThenSkip},
		{Profile: harvest.SkipHesitate, Probability: h.SkipHesitate},
	}
}

// newRunner wires one worker. Everything it builds is private to identity
// except the shared dedup store, stats, gates, sink and archive.
func (a *App) newRunner(ctx context.Context, identity harvest.Identity) (coordinator.Runner, error) {
	log, closeLog, err := logging.WithFile(a.logger, a.cfg.Logging.Dir, identity.Name, a.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("identity log: %w", err)
	}

	sampler := humanize.NewSampler(nil, nil)
	human := humanize.NewHumanizer(sampler, a.clock)

	session, err := a.browsers(ctx, identity.Name, human, log)
	if err != nil {
		a.closeLog(closeLog)
		return nil, fmt.Errorf("start session: %w", err)
	}

	pipeline := delivery.NewPipeline(delivery.Config{
		Mode:        a.cfg.DeliveryMode(),
		BatchSize:   a.cfg.Delivery.BatchSize,
		SourceLabel: a.cfg.Delivery.SourceLabel,
		RunID:       a.runID.String(),
	}, identity.Name, a.sink, a.clock.Now, a.events, log)

	deps := worker.Deps{
		Session:        session,
		Classifier:     detector.NewSessionClassifier(session, a.heuristic, log.Named("detector").With(zap.String("identity", identity.Name))),
		Behavior:       session,
		Skips:          humanize.NewWeightedStrategy(a.skipWeights(), sampler.Float64),
		Pacer:          human,
		Pauser:         a.pauser,
		Seen:           a.seen,
		Stats:          a.stats,
		Reporter:       a.reporter,
		Delivery:       pipeline,
		Archive:        a.archive,
		LoginGate:      a.loginGate,
		ExtractionGate: a.extractionGate,
		Clock:          a.clock,
		Events:         a.events,
		Logger:         log,
	}
	if a.limiter.Enabled() {
		deps.Limiter = a.limiter
	}

	w, err := worker.New(identity, worker.Config{
		MaxRecords:           a.cfg.Extraction.MaxRecords,
		MaxConsecutiveErrors: a.cfg.Extraction.MaxConsecutiveErrors,
		PeriodicCheckEvery:   a.cfg.Extraction.PeriodicCheckEvery,
		BreakEvery:           a.cfg.Extraction.BreakEvery,
		FirstRecordTimeout:   a.cfg.Extraction.FirstRecordTimeout,
		FlushTimeout:         a.cfg.Extraction.FlushTimeout,
	}, deps)
	if err != nil {
		if cerr := session.Close(); cerr != nil {
			log.Warn("close session failed", zap.String("identity", identity.Name), zap.Error(cerr))
		}
		a.closeLog(closeLog)
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	return &loggedRunner{worker: w, closeLog: func() { a.closeLog(closeLog) }}, nil
}

func (a *App) closeLog(fn func() error) {
	if err := fn(); err != nil {
		a.logger.Warn("close identity log failed", zap.Error(err))
	}
}

// loggedRunner closes the identity's log file once its worker returns.
type loggedRunner struct {
	worker   *worker.Worker
	closeLog func()
}

func (r *loggedRunner) Run(ctx context.Context) worker.Summary {
	defer r.closeLog()
	return r.worker.Run(ctx)
}
