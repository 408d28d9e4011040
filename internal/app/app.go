// Package app initializes and holds long-lived application services, acting
// as the composition root for the extraction service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/eventscope/extractor/internal/api"
	"github.com/eventscope/extractor/internal/browser"
	"github.com/eventscope/extractor/internal/clock/system"
	"github.com/eventscope/extractor/internal/config"
	"github.com/eventscope/extractor/internal/extraction"
	"github.com/eventscope/extractor/internal/id/uuid"
	collymapper "github.com/eventscope/extractor/internal/mapper"
	pubsubpublisher "github.com/eventscope/extractor/internal/publisher/pubsub"
	"github.com/eventscope/extractor/internal/runner"
	"github.com/eventscope/extractor/internal/scrapeapi"
	"github.com/eventscope/extractor/internal/storage/gcs"
	"github.com/eventscope/extractor/internal/storage/local"
	"github.com/eventscope/extractor/internal/storage/memory"
	"github.com/eventscope/extractor/internal/storage/postgres"
	"github.com/eventscope/extractor/internal/strategy"
)

// App holds the shared, long-lived services of the extraction service. It is
// built once at startup and torn down with Close.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	engine  *runner.Engine
	jobs    extraction.JobStore
	server  *api.Server
	closers []func()
}

// New wires stores, transports, strategies, and the run engine from config.
// The config is assumed to have passed Validate; New fails fast when any
// backing service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	ids := uuid.NewUUIDGenerator()
	clk := system.New()

	var (
		jobs     extraction.JobStore
		entities extraction.EntityStore
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		jobs, err = postgres.NewJobStore(pool)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init job store: %w", err)
		}
		entities, err = postgres.NewEntityStore(pool, ids)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init entity store: %w", err)
		}
		logger.Info("using postgres stores")
	} else {
		jobs = memory.NewJobStore()
		entities = memory.NewEntityStore()
		logger.Info("using in-memory stores")
	}
	a.jobs = jobs

	var blobs extraction.BlobStore
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		blobs, err = gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		logger.Info("using gcs blob store", zap.String("bucket", cfg.Storage.GCSBucket))
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		blobs = store
		logger.Info("using local blob store", zap.String("dir", cfg.Storage.LocalDir))
	case "none", "":
		logger.Info("blob offloading disabled; large payloads stay inline")
	default:
		a.Close()
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}

	var publisher extraction.Publisher
	if cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		publisher, err = pubsubpublisher.New(client)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		logger.Info("publishing completion events", zap.String("topic", cfg.PubSub.TopicName))
	}

	var pageBrowser extraction.Browser
	if cfg.Headless.Enabled {
		b, err := browser.New(browser.Config{
			MaxPages:  cfg.Headless.MaxPages,
			UserAgent: cfg.Headless.UserAgent,
		}, logger.Named("browser"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init headless browser: %w", err)
		}
		a.closers = append(a.closers, func() { _ = b.Close() })
		pageBrowser = b
	} else {
		pageBrowser = browser.NewNoop()
	}

	var scrapeClient *scrapeapi.Client
	if cfg.ScrapeAPI.BaseURL != "" {
		c, err := scrapeapi.New(scrapeapi.Config{
			BaseURL:    cfg.ScrapeAPI.BaseURL,
			APIKey:     cfg.ScrapeAPI.APIKey,
			Timeout:    time.Duration(cfg.ScrapeAPI.TimeoutSeconds) * time.Second,
			RetryCount: cfg.ScrapeAPI.MaxRetries,
		}, logger.Named("scrapeapi"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init scrape client: %w", err)
		}
		scrapeClient = c
	}

	var mapper extraction.Mapper
	if cfg.Mapper.UseLocal || scrapeClient == nil {
		mapper = collymapper.New(collymapper.Config{
			UserAgent: cfg.Headless.UserAgent,
			MaxDepth:  cfg.Mapper.MaxDepth,
			MaxLinks:  cfg.Mapper.MaxLinks,
		}, logger.Named("mapper"))
	} else {
		mapper = scrapeClient
	}

	probe := strategy.NewNetworkProbe(pageBrowser, clk, strategy.NetworkProbeConfig{
		InteractionPasses: cfg.Extraction.ProbePasses,
		ReplayCap:         cfg.Extraction.ReplayCap,
		NavTimeout:        time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		ReplayQPS:         float64(cfg.Headless.ReplayQPS),
	}, logger.Named("probe"))

	strategies := []strategy.Strategy{probe}
	if scrapeClient != nil {
		strategies = append(strategies, strategy.NewStructuredScrape(scrapeClient, clk, strategy.StructuredConfig{
			PassCap:       cfg.Extraction.StructuredPassCap,
			ScrapeTimeout: time.Duration(cfg.ScrapeAPI.TimeoutSeconds) * time.Second,
		}, logger.Named("structured")))
	}
	orch := strategy.NewOrchestrator(clk, logger.Named("strategy"), strategies...)

	a.engine = runner.New(runner.Config{
		MaxPages:        cfg.Extraction.MaxPages,
		BlobThreshold:   cfg.Extraction.BlobThresholdKB * 1024,
		CompletionTopic: cfg.PubSub.TopicName,
		PageQPS:         cfg.Extraction.PageQPS,
	}, jobs, entities, mapper, orch, blobs, publisher, clk, ids, logger.Named("runner"))

	a.server = api.NewServer(a.engine, jobs, cfg, logger.Named("api"))
	logger.Info("application services initialized")
	return a, nil
}

// Engine exposes the run engine for one-off invocations.
func (a *App) Engine() *runner.Engine {
	return a.engine
}

// JobStore exposes the job store.
func (a *App) JobStore() extraction.JobStore {
	return a.jobs
}

// Handler returns the HTTP handler for the service.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close tears services down in reverse initialization order and flushes the
// logger buffer.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
