package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/docsift/internal/app"
	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg := logger.New(cfg)

	application, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer application.Close()

	if err := application.AttachQueue(); err != nil {
		lg.Error("queue setup failed", "err", err)
		os.Exit(1)
	}

	server := app.NewServer(application)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			lg.Error("server error", "err", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Warn("server shutdown", "err", err)
	}
	lg.Info("docsift api stopped")
}
