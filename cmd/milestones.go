package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var milestonesCmd = &cobra.Command{
	Use:   "milestones <user>",
	Short: "List the milestones a user has reached",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		milestones, err := env.store.MilestoneRepo().ListByUser(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(milestones) == 0 {
			fmt.Println("No milestones yet for", args[0])
			return nil
		}
		for _, m := range milestones {
			fmt.Printf("%s  %s: %s\n",
				m.AchievedAt.UTC().Format(time.RFC3339), m.Kind, m.Description)
		}
		return nil
	},
}
