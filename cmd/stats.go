package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <module>",
	Short: "Show completion statistics for a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		stats, err := env.aggregator.Statistics(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d completions", stats.ModuleID, stats.TotalCompletions)
		if stats.TotalCompletions > 0 {
			fmt.Printf(", average score %.1f, average duration %.0fs", stats.AverageScore, stats.AverageDuration)
		}
		fmt.Println()
		return nil
	},
}
