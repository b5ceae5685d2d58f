package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docsift/internal/app"
	"github.com/markdave123-py/docsift/internal/config"
	"github.com/markdave123-py/docsift/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "docsift",
	Short:         "Ingest PDFs into a vector store and ask questions about them",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// loadConfig reads the environment and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg), nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, lg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.NewApp(ctx, cfg, lg)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
