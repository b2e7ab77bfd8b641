package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <user> <module>",
	Short: "Push progress artifacts to the remote repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		res := env.syncer.SyncUser(cmd.Context(), args[0], args[1])
		if res.Skipped != "" {
			return fmt.Errorf("sync skipped: %s", res.Skipped)
		}
		fmt.Printf("Synced %d file(s), %d failed\n", res.Synced, res.Failed)
		for _, msg := range res.Errors {
			fmt.Println("  -", msg)
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d file(s) failed to sync", res.Failed)
		}
		return nil
	},
}
