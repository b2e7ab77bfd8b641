package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <user> <module> <task>",
	Short: "Mark a task as started",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		rec, err := env.ledger.StartTask(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Printf("Started %s/%s for %s (attempt %d)\n",
			rec.ModuleID, rec.TaskID, rec.UserID, rec.Attempts)
		return nil
	},
}
