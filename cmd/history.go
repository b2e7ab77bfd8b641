package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"traintrack/internal/report"
)

var historyCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "List a user's completion reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		reports, err := env.aggregator.UserHistory(args[0])
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No completion reports for", args[0])
			return nil
		}

		for _, rep := range reports {
			ok, err := report.Verify(rep)
			mark := "verified"
			if err != nil || !ok {
				mark = "UNVERIFIED"
			}
			fmt.Printf("%s  %s (%s)  score %.1f  %s\n",
				rep.CompletedAt, rep.Module.Name, rep.Module.ID, rep.OverallScore, mark)
		}
		return nil
	},
}
