package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var completeCmd = &cobra.Command{
	Use:   "complete <user> <module> <task>",
	Short: "Mark a task as completed with a score",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := cmd.Flags().GetFloat64("score")
		if err != nil {
			return err
		}
		if score < 0 || score > 100 {
			return fmt.Errorf("score must be between 0 and 100, got %v", score)
		}

		var screenshot []byte
		if path, _ := cmd.Flags().GetString("screenshot"); path != "" {
			screenshot, err = os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read screenshot: %w", err)
			}
		}

		env, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer env.close()

		rec, err := env.ledger.CompleteTask(cmd.Context(), args[0], args[1], args[2], score, screenshot)
		if err != nil {
			return err
		}
		fmt.Printf("Completed %s/%s for %s: score %.1f, %ds\n",
			rec.ModuleID, rec.TaskID, rec.UserID, score, rec.DurationSeconds)
		if rec.ScreenshotPath != "" {
			fmt.Println("Screenshot stored at", rec.ScreenshotPath)
		}
		return nil
	},
}

func init() {
	completeCmd.Flags().Float64("score", 100, "Score for the completed task (0-100)")
	completeCmd.Flags().String("screenshot", "", "Path to a screenshot file to attach")
}
