package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"traintrack/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <user>",
	Short: "Export a user's progress to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatName, _ := cmd.Flags().GetString("format")
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		exp := export.New(env.store.TaskRepo(), env.ledger, env.organizer, env.directory)
		path, err := exp.Export(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		fmt.Println("Exported to", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "Export format: json or csv")
}
