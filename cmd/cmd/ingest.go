package cmd

import (
	"fmt"
	"time"

	"dailybrief/internal/config"
	"dailybrief/internal/sources"

	"github.com/spf13/cobra"
)

// ingestCmd performs a single ingestion pass and exits. Re-running it is
// safe: stored items are deduplicated on their content fingerprint.
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch all configured sources once and store new items",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ingestor := sources.NewIngestor(st, buildSources(cfg), cfg.IngestWindow())
		report, err := ingestor.Run(cmd.Context(), time.Now())
		if err != nil {
			return err
		}

		fmt.Printf("Fetched %d items, stored %d new (%d source errors)\n",
			report.Fetched, report.Stored, report.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
