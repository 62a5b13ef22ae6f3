package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixir/interaction-discovery-service/internal/config"
	"github.com/helixir/interaction-discovery-service/internal/database"
	"github.com/helixir/interaction-discovery-service/internal/observability"
	"github.com/helixir/interaction-discovery-service/internal/repository"
)

var fixStuckOlderThan time.Duration

var fixStuckCmd = &cobra.Command{
	Use:   "fix-stuck-jobs",
	Short: "Fail running jobs that stopped making progress",
	Long: `fix-stuck-jobs marks running jobs as failed when they have not written
any progress for longer than the threshold. Jobs end up in this state when a
server crashes or is force-killed mid-run; their records stay running forever
unless recovered.

The threshold defaults to the configured discovery.stuck_job_timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFixStuck(cmd.Context())
	},
}

func init() {
	fixStuckCmd.Flags().DurationVar(&fixStuckOlderThan, "older-than", 0,
		"progress-age threshold (default: discovery.stuck_job_timeout)")
	rootCmd.AddCommand(fixStuckCmd)
}

func runFixStuck(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "admin").Logger()

	olderThan := fixStuckOlderThan
	if olderThan <= 0 {
		olderThan = cfg.Discovery.StuckJobTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := database.New(connectCtx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	jobRepo := repository.NewPgJobRepository(db)

	cutoff := time.Now().Add(-olderThan)
	logger.Info().
		Dur("older_than", olderThan).
		Time("cutoff", cutoff).
		Msg("scanning for stuck jobs")

	ids, err := jobRepo.MarkStuckFailed(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("mark stuck jobs: %w", err)
	}

	if len(ids) == 0 {
		logger.Info().Msg("no stuck jobs found")
		return nil
	}

	for _, id := range ids {
		logger.Info().Str("job_id", id.String()).Msg("marked stuck job failed")
	}
	logger.Info().Int("count", len(ids)).Msg("stuck job recovery complete")
	return nil
}
