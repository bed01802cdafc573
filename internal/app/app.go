// Package app assembles the statement import service from configuration.
// Both the HTTP server and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-import/internal/config"
	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/events"
	"github.com/dvloznov/statement-import/internal/gcsuploader"
	"github.com/dvloznov/statement-import/internal/importer"
	"github.com/dvloznov/statement-import/internal/importer/inmemory"
	infraBQ "github.com/dvloznov/statement-import/internal/infra/bigquery"
	"github.com/dvloznov/statement-import/internal/infra/sqlite"
	"github.com/dvloznov/statement-import/internal/jobs"
	jobsmem "github.com/dvloznov/statement-import/internal/jobs/inmemory"
	"github.com/dvloznov/statement-import/internal/notionsync"
	"github.com/dvloznov/statement-import/internal/parsing"
)

// Options adjusts how the App is assembled.
type Options struct {
	// Synchronous delivers confirmation events to downstream consumers
	// inside Confirm instead of through the background bus. The CLI uses
	// it because it exits right after the command.
	Synchronous bool
}

// App holds the wired components.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Coordinator  *importer.Coordinator
	Store        importer.UploadStore
	Documents    gcsuploader.DocumentStore
	Parsers      *parsing.Registry
	Categories   parsing.CategorySource
	ParseHandler *jobs.ParseHandler
	JobStore     *jobsmem.Store
	Queue        *jobsmem.Queue
	Bus          *events.Bus

	bq      *bigquery.Client
	gcs     *storage.Client
	closers []func() error
}

// New builds the App. Call Close when done.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, log := a.Config, a.Log

	if err := a.openStore(ctx); err != nil {
		return err
	}
	if err := a.openDocuments(ctx); err != nil {
		return err
	}

	var catalog importer.CategoryCatalog = parsing.DefaultCategories
	a.Categories = parsing.DefaultCategories
	if a.bq != nil {
		ds := infraBQ.Dataset{ProjectID: cfg.BigQuery.Project, DatasetID: cfg.BigQuery.Dataset}
		bqCatalog := infraBQ.NewCategoryCatalog(a.bq, ds, cfg.BigQuery.CategoriesTTL)
		catalog = bqCatalog
		a.Categories = catalogCategories{catalog: bqCatalog}
	}

	if err := a.buildParsers(ctx); err != nil {
		return err
	}

	publisher := a.buildPublisher(opts)

	a.Coordinator = importer.NewCoordinator(a.Store, publisher, log, importer.WithCategoryCatalog(catalog))

	fetcher := gcsuploader.Router{}
	if local, ok := a.Documents.(*gcsuploader.LocalStore); ok {
		fetcher["file"] = local
	} else if local, err := gcsuploader.NewLocalStore(cfg.Uploads.LocalDir); err == nil {
		fetcher["file"] = local
	}
	if a.gcs != nil {
		fetcher["gs"] = gcsuploader.NewGCSStore(a.gcs, cfg.GCS.Bucket, cfg.GCS.Prefix)
	}
	a.ParseHandler = jobs.NewParseHandler(fetcher, a.Parsers, a.Coordinator, log)

	a.JobStore = jobsmem.NewStore()
	a.Queue = jobsmem.NewQueue(jobsmem.QueueConfig{
		BufferSize:   cfg.Jobs.Buffer,
		Workers:      cfg.Jobs.Workers,
		RetryBackoff: cfg.Jobs.Backoff,
		MaxRetries:   cfg.Jobs.MaxRetries,
	}, a.JobStore, log)

	return nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Store.SQLitePath, a.Log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		a.Store = s

	case config.DriverBigQuery:
		ds := infraBQ.Dataset{ProjectID: cfg.BigQuery.Project, DatasetID: cfg.BigQuery.Dataset}
		repo, err := infraBQ.NewUploadRepository(ctx, ds)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.EnsureTables(ctx, a.Log); err != nil {
			return err
		}
		a.bq = repo.Client()
		a.Store = repo

	default:
		a.Store = inmemory.NewStore()
	}

	a.Log.Info().Str("driver", cfg.Store.Driver).Msg("Upload store ready")
	return nil
}

func (a *App) openDocuments(ctx context.Context) error {
	cfg := a.Config
	if cfg.GCS.Bucket != "" || cfg.Events.ArchiveBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		a.gcs = client
		a.closers = append(a.closers, client.Close)
	}

	if cfg.GCS.Bucket != "" {
		a.Documents = gcsuploader.NewGCSStore(a.gcs, cfg.GCS.Bucket, cfg.GCS.Prefix)
		return nil
	}

	local, err := gcsuploader.NewLocalStore(cfg.Uploads.LocalDir)
	if err != nil {
		return err
	}
	a.Log.Warn().Str("dir", cfg.Uploads.LocalDir).Msg("No GCS bucket configured, storing documents locally")
	a.Documents = local
	return nil
}

func (a *App) buildParsers(ctx context.Context) error {
	cfg := a.Config
	categorizer := parsing.NewCategorizer(parsing.DefaultCategories)
	if a.bq != nil {
		cats, err := a.Categories.ListCategories(ctx)
		if err != nil {
			return err
		}
		categorizer = parsing.NewCategorizer(cats)
	}

	a.Parsers = parsing.NewRegistry()
	a.Parsers.Register(parsing.NewCSVParser(categorizer, cfg.Uploads.DefaultCurrency), "csv")
	a.Parsers.Register(parsing.NewOFXParser(categorizer), "ofx", "qfx")

	if cfg.Gemini.Enabled {
		client, err := parsing.NewGenAIClient(ctx)
		if err != nil {
			return err
		}
		a.Parsers.Register(parsing.NewGeminiParser(client.Models, cfg.Gemini.Model, a.Categories, a.Log), "pdf")
	}
	return nil
}

func (a *App) buildPublisher(opts Options) importer.EventPublisher {
	cfg := a.Config
	var targets []events.NamedPublisher

	var downstream []subscriber
	if cfg.NotionEnabled() {
		poster := notionsync.NewLedgerPoster(notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, a.Log)
		downstream = append(downstream, subscriber{name: "notion-ledger", handler: poster.Handle})
	}

	if opts.Synchronous {
		for _, d := range downstream {
			targets = append(targets, events.NamedPublisher{Name: d.name, Publisher: handlerPublisher(d.handler)})
		}
	} else {
		a.Bus = events.NewBus(events.BusConfig{
			Workers:    cfg.Events.Workers,
			MaxRetries: cfg.Events.MaxRetries,
			Backoff:    cfg.Events.Backoff,
		}, a.Log)
		for _, d := range downstream {
			a.Bus.Subscribe(d.name, events.Idempotent(d.handler))
		}
		targets = append(targets, events.NamedPublisher{Name: "bus", Publisher: a.Bus})
	}

	if a.bq != nil {
		ds := infraBQ.Dataset{ProjectID: cfg.BigQuery.Project, DatasetID: cfg.BigQuery.Dataset}
		targets = append(targets, events.NamedPublisher{Name: "bigquery-event-log", Publisher: infraBQ.NewEventLog(a.bq, ds)})
	}
	if cfg.Events.ArchiveBucket != "" {
		targets = append(targets, events.NamedPublisher{
			Name:      "gcs-archive",
			Publisher: events.NewGCSArchive(a.gcs, cfg.Events.ArchiveBucket, cfg.Events.ArchivePrefix),
		})
	}

	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	a.Log.Info().Strs("targets", names).Msg("Event publishers ready")
	return events.NewFanout(targets...)
}

type subscriber struct {
	name    string
	handler events.Handler
}

// handlerPublisher adapts a bus handler to a direct publisher.
type handlerPublisher events.Handler

func (h handlerPublisher) Publish(ctx context.Context, ev domain.StatementImportConfirmedEvent) error {
	return h(ctx, ev)
}

// Start runs the event bus and the parse workers until ctx is done.
func (a *App) Start(ctx context.Context) error {
	if a.Bus != nil {
		a.Bus.Start(ctx)
	}
	return a.Queue.Start(ctx, a.ParseHandler.Handle)
}

// Shutdown stops the workers, waiting for in-flight work until ctx is done.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop job queue: %w", err))
		}
	}
	if a.Bus != nil {
		if err := a.Bus.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop event bus: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases clients and databases.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
