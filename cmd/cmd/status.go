package cmd

import (
	"fmt"
	"time"

	"dailybrief/internal/config"

	"github.com/spf13/cobra"
)

// statusCmd reports the latest run for a user on a given date (today in
// the scheduler's time zone when omitted).
var statusCmd = &cobra.Command{
	Use:   "status <user-id> [date]",
	Short: "Show the digest run status for a user",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()

		userID := args[0]
		date := time.Now().In(cfg.Location()).Format("2006-01-02")
		if len(args) == 2 {
			parsed, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", args[1], err)
			}
			date = parsed.Format("2006-01-02")
		}

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetLatestRun(userID, date)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Printf("No run for %s on %s\n", userID, date)
			return nil
		}

		fmt.Printf("Run %s\n", run.ID)
		fmt.Printf("  User:     %s\n", run.UserID)
		fmt.Printf("  Date:     %s\n", run.RunDate)
		fmt.Printf("  Status:   %s\n", run.Status)
		fmt.Printf("  Selected: %d items\n", len(run.Selected))
		fmt.Printf("  Started:  %s\n", run.StartedAt.Format(time.RFC3339))
		if !run.CompletedAt.IsZero() {
			fmt.Printf("  Finished: %s\n", run.CompletedAt.Format(time.RFC3339))
		}
		if run.FailureReason != "" {
			fmt.Printf("  Failure:  %s\n", run.FailureReason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
