package main

import (
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex <session-id>...",
	Short: "Rebuild the findings index for sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		for _, id := range args {
			n, err := app.SessionSvc.Reindex(ctx, id)
			if err != nil {
				return err
			}
			cmd.Printf("%s\t%d findings indexed\n", id, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
