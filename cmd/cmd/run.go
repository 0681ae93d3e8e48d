package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dailybrief/internal/config"
	"dailybrief/internal/logger"
	"dailybrief/internal/sources"

	"github.com/spf13/cobra"
)

var runOnce bool

// runCmd starts the long-running scheduler: periodic ingestion plus the
// digest run loop. Stops cleanly on SIGINT/SIGTERM; interrupted runs
// resume from their persisted stage on the next start.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler loop: ingest sources and deliver due digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		orch, err := buildOrchestrator(cfg, st)
		if err != nil {
			return err
		}
		ingestor := sources.NewIngestor(st, buildSources(cfg), cfg.IngestWindow())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runOnce {
			now := time.Now()
			if _, err := ingestor.Run(ctx, now); err != nil {
				logger.Error("ingestion pass failed", err)
			}
			if _, err := orch.RecoverFailedRuns(ctx, now); err != nil {
				return err
			}
			processed, err := orch.TriggerDueRuns(ctx, now)
			if err != nil {
				return err
			}
			logger.Info("single pass complete", "processed", processed)
			return nil
		}

		go ingestLoop(ctx, ingestor, cfg.IngestInterval())

		logger.Info("scheduler started",
			"tick", cfg.Scheduler.Tick, "workers", cfg.Scheduler.Workers, "sources", len(cfg.Sources))

		if err := orch.RunLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("scheduler stopped")
		return nil
	},
}

// ingestLoop runs ingestion passes until the context is cancelled. The
// first pass runs immediately so a fresh start has items to rank.
func ingestLoop(ctx context.Context, ingestor *sources.Ingestor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := ingestor.Run(ctx, time.Now()); err != nil && ctx.Err() == nil {
			logger.Error("ingestion pass failed", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "Run a single ingest and trigger pass, then exit")
	rootCmd.AddCommand(runCmd)
}
