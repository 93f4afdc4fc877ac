package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's status and stage tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		status, err := app.SessionSvc.Status(ctx, args[0])
		if err != nil {
			return err
		}

		cmd.Printf("Session: %s\n", status.SessionID)
		cmd.Printf("Status: %s (%d%%)\n", status.Status, status.Progress)
		if status.ErrorMessage != "" {
			cmd.Printf("Error: %s\n", status.ErrorMessage)
		}
		for _, task := range status.Tasks {
			cmd.Printf("  %-10s %-10s %d/%d\n", task.Type, task.Status, task.ProgressCurrent, task.ProgressTotal)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
