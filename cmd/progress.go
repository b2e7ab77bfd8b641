package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress <user>",
	Short: "Show module progress for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		progress, err := env.ledger.UserProgress(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(progress) == 0 {
			fmt.Println("No progress recorded for", args[0])
			return nil
		}

		for _, p := range progress {
			fmt.Printf("%s: %s, %.0f%% complete (%d/%d required), score %.1f\n",
				p.ModuleID, p.Status, p.CompletionPercentage,
				p.CompletedRequired, p.RequiredTasks, p.OverallScore)
		}
		return nil
	},
}
