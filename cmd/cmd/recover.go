package cmd

import (
	"fmt"
	"time"

	"dailybrief/internal/config"

	"github.com/spf13/cobra"
)

var recoverDays int

// recoverCmd reopens failed runs inside the recovery window and executes
// them along with anything else currently due.
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reopen failed digest runs and retry them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if recoverDays > 0 {
			cfg.Scheduler.RecoveryDays = recoverDays
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		orch, err := buildOrchestrator(cfg, st)
		if err != nil {
			return err
		}

		now := time.Now()
		opened, err := orch.RecoverFailedRuns(cmd.Context(), now)
		if err != nil {
			return err
		}
		processed, err := orch.TriggerDueRuns(cmd.Context(), now)
		if err != nil {
			return err
		}

		fmt.Printf("Reopened %d failed runs, processed %d runs\n", opened, processed)
		return nil
	},
}

func init() {
	recoverCmd.Flags().IntVar(&recoverDays, "days", 0, "Override the recovery lookback window in days")
	rootCmd.AddCommand(recoverCmd)
}
