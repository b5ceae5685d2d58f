package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docsift/internal/models"
	"github.com/markdave123-py/docsift/internal/services"
)

var ingestDocumentID int64

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Run the ingestion pipeline on a local PDF and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().Int64Var(&ingestDocumentID, "document-id", 0, "document id to store chunks under")
	_ = ingestCmd.MarkFlagRequired("document-id")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	name := filepath.Base(args[0])
	if err := services.CheckUpload(services.Upload{FileName: name, Data: data}); err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Ingestor.ProcessBytes(cmd.Context(), models.IngestJob{
		DocumentID: ingestDocumentID,
		FileName:   name,
	}, data)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return printJSON(cmd, summary)
}
