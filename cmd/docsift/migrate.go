package main

import (
	"github.com/spf13/cobra"

	db "github.com/markdave123-py/docsift/internal/core/database"
)

var printSQL bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the documents and chunks schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&printSQL, "print", false, "print the bootstrap SQL instead of running it")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, lg, err := loadConfig()
	if err != nil {
		return err
	}
	if printSQL {
		sql, err := db.BootstrapSQL(cfg.EmbedDim)
		if err != nil {
			return err
		}
		cmd.Println(sql)
		return nil
	}

	conn, err := db.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.EnsureBootstrapped(cmd.Context(), conn, cfg.EmbedDim); err != nil {
		return err
	}
	lg.Info("schema ready", "embed_dim", cfg.EmbedDim)
	return nil
}
