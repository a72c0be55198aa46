package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hrygo/assetvault/internal/profile"
	"github.com/hrygo/assetvault/server"
	"github.com/hrygo/assetvault/server/runner/embedding"
)

var (
	backfillOrg       string
	backfillBatchSize int
	retryFailedOrg    string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Queue embeddings for an organization's pending assets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd.Context(), true, func(pipeline *embedding.Pipeline) error {
			var bar *progressbar.ProgressBar
			result, err := pipeline.Backfill(cmd.Context(), backfillOrg, backfillBatchSize, func(done, total int) {
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionEnableColorCodes(true),
						progressbar.OptionSetWidth(40),
						progressbar.OptionShowCount(),
						progressbar.OptionSetDescription("[cyan]Queueing[reset]"),
						progressbar.OptionOnCompletion(func() {
							fmt.Println()
						}),
					)
				}
				_ = bar.Set(done)
			})
			if err != nil {
				return err
			}
			fmt.Printf("Queued %d assets, %d failed\n", result.Queued, result.Failed)
			return nil
		})
	},
}

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Move an organization's failed assets back to pending",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd.Context(), false, func(pipeline *embedding.Pipeline) error {
			count, err := pipeline.RetryAllFailed(cmd.Context(), retryFailedOrg)
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d failed assets to pending, run backfill to queue them\n", count)
			return nil
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillOrg, "org", "", "organization id")
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", embedding.DefaultBackfillBatchSize, "maximum number of assets to queue")
	_ = backfillCmd.MarkFlagRequired("org")

	retryFailedCmd.Flags().StringVar(&retryFailedOrg, "org", "", "organization id")
	_ = retryFailedCmd.MarkFlagRequired("org")
}

// withPipeline opens the store and backends for a one-shot command.
// Commands that enqueue need the redis queue: an in-process queue would
// drop every message on exit.
func withPipeline(ctx context.Context, enqueues bool, fn func(*embedding.Pipeline) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	if enqueues {
		if err := requireSharedQueue(instanceProfile); err != nil {
			return err
		}
	}

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	defer storeInstance.Close()

	backends, err := server.OpenBackends(ctx, instanceProfile, storeInstance)
	if err != nil {
		return err
	}
	defer backends.Close()

	return fn(backends.Pipeline)
}

func requireSharedQueue(instanceProfile *profile.Profile) error {
	if instanceProfile.QueueBackend != "redis" {
		return errors.New("this command needs ASSETVAULT_QUEUE_BACKEND=redis so the running server receives the messages")
	}
	return nil
}
