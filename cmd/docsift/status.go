package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docsift/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the state of an ingestion task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.QueueBackend == "memory" {
		return errors.New("task status is only readable out of process with the asynq backend")
	}
	opts, err := cfg.RedisOptions()
	if err != nil {
		return err
	}
	q := queue.NewAsynqQueue(opts, queue.AsynqOptions{Queue: cfg.QueueName})
	defer q.Close()

	st, err := q.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, st)
}
