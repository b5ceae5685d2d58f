package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/core"
	db "github.com/markdave123-py/docsift/internal/core/database"
	"github.com/markdave123-py/docsift/internal/core/ingestion_engine"
	"github.com/markdave123-py/docsift/internal/core/llm"
	objectclient "github.com/markdave123-py/docsift/internal/core/object-client"
	"github.com/markdave123-py/docsift/internal/queue"
	"github.com/markdave123-py/docsift/internal/services"
	"github.com/markdave123-py/docsift/internal/telemetry"
)

// App holds every long-lived collaborator built from one configuration.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
	DBClient  *db.DatabaseClient
	Objects   core.ObjectClient
	Providers *llm.Providers
	Ingestor  *ingestion_engine.DocumentIngestor
	Queue     queue.Queue
	Queries   *services.QueryService
	Intake    *services.IntakeService

	shutdownTracer func(context.Context) error
}

// NewApp connects storage and providers and wires the pipeline. The queue is
// attached separately so the worker can run without a producer.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	shutdown, err := telemetry.InitTracer(appCtx, "docsift", cfg.OTLPEndpoint, cfg.OTelSampleRatio)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.shutdownTracer = shutdown
	if a.Metrics, err = telemetry.InitMetrics(); err != nil {
		logger.Warn("metrics disabled", "err", err)
	}

	if a.DBClient, err = db.NewDatabaseClient(appCtx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("database initialized and ready")

	if a.Objects, err = objectclient.New(appCtx, cfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("object storage: %w", err)
	}
	logger.Info("object storage initialized", "backend", cfg.ObjectStore)

	if a.Providers, err = llm.NewProviders(appCtx, cfg, a.Metrics, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("providers: %w", err)
	}

	a.Ingestor = ingestion_engine.NewDocumentIngestor(ingestion_engine.Dependencies{
		Store:    a.DBClient,
		Objects:  a.Objects,
		Vision:   a.Providers.Vision,
		LLM:      a.Providers.LLM,
		Embedder: a.Providers.Embedder,
		Metrics:  a.Metrics,
		Logger:   logger,
	}, ingestion_engine.IngestConfigFromEnv(cfg))

	a.Queries = services.NewQueryService(a.DBClient, a.Providers.Embedder, a.Providers.LLM, cfg.QueryTopK, a.Metrics, logger)
	return a, nil
}

// AttachQueue builds the producer side of the configured queue backend.
// The memory backend runs ingestion in this process.
func (a *App) AttachQueue() error {
	cfg := a.Config
	switch cfg.QueueBackend {
	case "memory":
		q, err := queue.NewMemoryQueue(a.Ingestor, queue.MemoryOptions{
			Concurrency: cfg.WorkerConcurrency,
			MaxRetry:    cfg.TaskMaxRetry,
			Retention:   cfg.TaskRetention,
			Metrics:     a.Metrics,
			Logger:      a.Logger,
		})
		if err != nil {
			return err
		}
		a.Queue = q
	default:
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		a.Queue = queue.NewAsynqQueue(opts, queue.AsynqOptions{
			Queue:     cfg.QueueName,
			MaxRetry:  cfg.TaskMaxRetry,
			Retention: cfg.TaskRetention,
		})
	}
	a.Intake = services.NewIntakeService(a.Objects, a.Queue, a.Logger)
	a.Logger.Info("task queue ready", "backend", cfg.QueueBackend)
	return nil
}

func (a *App) Close() {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Providers != nil {
		errs = append(errs, a.Providers.Close())
	}
	if a.DBClient != nil {
		errs = append(errs, a.DBClient.Close())
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.shutdownTracer(ctx))
		cancel()
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("shutdown finished with errors", "err", err)
	}
}
