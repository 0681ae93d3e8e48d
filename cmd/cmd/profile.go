package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"dailybrief/internal/config"
	"dailybrief/internal/core"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user digest profiles",
}

// profileSetCmd creates or updates a profile from a JSON file. The
// delivery watermark is owned by the scheduler and never written here.
var profileSetCmd = &cobra.Command{
	Use:   "set <profile.json>",
	Short: "Create or update a user profile from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read profile file: %w", err)
		}

		var profile core.UserProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			return fmt.Errorf("parse profile file: %w", err)
		}
		if profile.UserID == "" || profile.Email == "" {
			return fmt.Errorf("profile needs user_id and email")
		}
		if profile.DigestMaxItems <= 0 {
			profile.DigestMaxItems = 10
		}

		cfg := config.Get()
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SaveProfile(profile); err != nil {
			return err
		}
		fmt.Printf("Saved profile %s (%s)\n", profile.UserID, profile.Email)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all user profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		profiles, err := st.ListProfiles()
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			fmt.Println("No profiles configured")
			return nil
		}

		for _, p := range profiles {
			topics := make([]string, 0, len(p.Interests))
			for topic := range p.Interests {
				topics = append(topics, topic)
			}
			fmt.Printf("%s  %s  schedule=%s  max_items=%d  topics=%s\n",
				p.UserID, p.Email, p.ScheduleTime, p.DigestMaxItems, strings.Join(topics, ","))
		}
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	rootCmd.AddCommand(profileCmd)
}
