package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/pdf-perfect/internal/config"
	"github.com/yourusername/pdf-perfect/internal/jobs"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobId>",
		Short: "Print the stored state of a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.QueueDriver != config.QueueDriverRedis {
				return fmt.Errorf("status lookups require QUEUE_DRIVER=%s", config.QueueDriverRedis)
			}

			rdb, err := newRedisClient(a.cfg.QueueRedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			job, err := jobs.NewRedisStore(rdb).Get(cmd.Context(), args[0])
			if errors.Is(err, jobs.ErrNotFound) {
				return fmt.Errorf("job %s not found", args[0])
			}
			if err != nil {
				return err
			}
			job.State = job.StateAt(time.Now())

			out, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
