package main

import (
	"context"
	"log"
	"os"

	"github.com/markdave123-py/docsift/internal/app"
	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/logger"
	"github.com/markdave123-py/docsift/internal/queue"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg := logger.New(cfg)

	if cfg.QueueBackend == "memory" {
		lg.Error("the worker only serves the asynq backend; the memory backend runs inside the api", "backend", cfg.QueueBackend)
		os.Exit(1)
	}
	ctx := context.Background()
	if err := cfg.PingRedis(ctx); err != nil {
		lg.Error("redis unreachable", "err", err)
		os.Exit(1)
	}
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		lg.Error("redis options", "err", err)
		os.Exit(1)
	}

	application, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer application.Close()

	worker := queue.NewWorker(redisOpts, application.Ingestor, queue.WorkerOptions{
		Concurrency: cfg.WorkerConcurrency,
		Queue:       cfg.QueueName,
		Metrics:     application.Metrics,
		Logger:      lg,
	})

	lg.Info("starting ingestion worker", "concurrency", cfg.WorkerConcurrency, "queue", cfg.QueueName)
	if err := worker.Run(); err != nil {
		lg.Error("worker stopped", "err", err)
	}
}
