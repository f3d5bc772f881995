package app

import (
	"context"
	"fmt"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/delivery/memory"
	"github.com/JakeFAU/session-harvester/internal/delivery/pubsub"
	"github.com/JakeFAU/session-harvester/internal/delivery/webhook"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/session-harvester/internal/progress/sinks"
	"github.com/JakeFAU/session-harvester/internal/seed"
	"github.com/JakeFAU/session-harvester/internal/storage"
	gcsstorage "github.com/JakeFAU/session-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/session-harvester/internal/storage/local"
	memstorage "github.com/JakeFAU/session-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/session-harvester/internal/storage/postgres"
)

func (a *App) setupDatabase(ctx context.Context) error {
	if !a.cfg.PostgresNeeded() {
		a.logger.Info("no database configured; skipping record table and run ledger")
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MaxConnLifetime: a.cfg.Database.ConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool

	if a.cfg.Seed.Provider == "postgres" || a.cfg.Database.ArchiveRecords {
		records, err := pgstore.NewRecordStore(pool, a.cfg.Database.RecordsTable, a.runID)
		if err != nil {
			return fmt.Errorf("record store init failed: %w", err)
		}
		if err := records.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("record schema: %w", err)
		}
		if a.cfg.Seed.Provider == "postgres" {
			a.seed = records
		}
		if a.cfg.Database.ArchiveRecords {
			a.archive = appendArchive(a.archive, records)
		}
		a.logger.Info("record table ready", zap.String("table", a.cfg.Database.RecordsTable))
	}
	if a.cfg.Database.RunLedger {
		runs, err := pgstore.NewRunStore(pool)
		if err != nil {
			return fmt.Errorf("run store init failed: %w", err)
		}
		if err := runs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run ledger schema: %w", err)
		}
		a.runRepo = runs
		a.logger.Info("run ledger ready")
	}
	return nil
}

func (a *App) setupSeed(context.Context) error {
	switch a.cfg.Seed.Provider {
	case "http":
		src, err := seed.NewHTTPSource(seed.HTTPConfig{
			URL:       a.cfg.Seed.URL,
			Timeout:   a.cfg.Seed.Timeout,
			UserAgent: a.cfg.Delivery.Webhook.UserAgent,
		})
		if err != nil {
			return fmt.Errorf("seed source init failed: %w", err)
		}
		a.seed = src
		a.logger.Info("using http seed source", zap.String("url", a.cfg.Seed.URL))
	case "file":
		a.seed = seed.FileSource{Path: a.cfg.Seed.File}
		a.logger.Info("using file seed source", zap.String("path", a.cfg.Seed.File))
	case "postgres":
		a.logger.Info("using postgres seed source", zap.String("table", a.cfg.Database.RecordsTable))
	}
	return nil
}

func (a *App) loadSeed(ctx context.Context) error {
	policy := seed.RetryPolicy{Retries: a.cfg.Seed.Retries, BaseDelay: a.cfg.Seed.BaseDelay}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = seed.DefaultBaseDelay
	}
	loader, err := seed.NewLoader(a.seed, a.seen, policy, a.clock, a.logger.Named("seed"))
	if err != nil {
		return fmt.Errorf("seed loader init failed: %w", err)
	}
	res, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load seed: %w", err)
	}
	if res.Degraded {
		fmt.Fprintln(a.out, "WARNING: seed unavailable; duplicates of earlier runs will not be detected")
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var blobs storage.BlobStore
	switch a.cfg.Archive.Provider {
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = local
		a.logger.Info("using local archive", zap.String("path", a.cfg.Archive.Local.BaseDir))
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		bucket, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.GCS.Bucket, CreateOnly: true})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		blobs = bucket
		a.logger.Info("using gcs archive", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
	case "memory":
		mem := memstorage.NewBlobStore()
		blobs = mem
		a.closers = append(a.closers, func() error {
			a.logger.Info("in-memory archive discarded", zap.Int("records", len(mem.Keys())))
			return nil
		})
		a.logger.Info("using in-memory archive; records are discarded at exit")
	default:
		return nil
	}
	archive, err := storage.NewBlobArchive(blobs, a.cfg.Archive.Prefix, a.runID.String(), a.logger.Named("archive"))
	if err != nil {
		return fmt.Errorf("archive init failed: %w", err)
	}
	a.archive = appendArchive(a.archive, archive)
	return nil
}

func appendArchive(existing harvest.Archive, next harvest.Archive) harvest.Archive {
	switch cur := existing.(type) {
	case nil:
		return next
	case storage.MultiArchive:
		return append(cur, next)
	default:
		return storage.MultiArchive{cur, next}
	}
}

func (a *App) setupSink(ctx context.Context) error {
	if a.cfg.DeliveryMode() == delivery.ModeDisabled {
		a.logger.Info("delivery disabled; records are only archived")
		return nil
	}
	switch a.cfg.Delivery.Sink {
	case "webhook":
		sink, err := webhook.New(webhook.Config{
			URL:       a.cfg.Delivery.Webhook.URL,
			Timeout:   a.cfg.Delivery.Webhook.Timeout,
			UserAgent: a.cfg.Delivery.Webhook.UserAgent,
		}, &http.Client{})
		if err != nil {
			return fmt.Errorf("webhook sink init failed: %w", err)
		}
		a.sink = sink
		a.logger.Info("using webhook sink", zap.String("url", a.cfg.Delivery.Webhook.URL))
	case "pubsub":
		sink, client, err := pubsub.Dial(ctx, a.cfg.Delivery.PubSub.ProjectID, a.cfg.Delivery.PubSub.TopicID)
		if err != nil {
			return fmt.Errorf("pubsub sink init failed: %w", err)
		}
		a.pubsubSink, a.pubsubClient, a.sink = sink, client, sink
		a.logger.Info("using pubsub sink",
			zap.String("project", a.cfg.Delivery.PubSub.ProjectID),
			zap.String("topic", a.cfg.Delivery.PubSub.TopicID))
	case "memory":
		a.sink = memory.New()
		a.logger.Info("using in-memory sink; payloads are discarded at exit")
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if a.runRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runRepo, a.logger.Named("progress_store")))
		a.logger.Debug("added progress store sink")
	}
	a.progressHub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.events = progress.NewRecorder(a.progressHub, a.runID, a.clock.Now)
	return nil
}
