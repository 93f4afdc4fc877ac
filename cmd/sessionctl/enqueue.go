package main

import (
	"github.com/spf13/cobra"
)

var enqueueProcedureType string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file>...",
	Short: "Store recordings and queue them for processing",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		procedureType := enqueueProcedureType
		if procedureType == "" {
			procedureType = cfg.Ingest.ProcedureType
		}

		for _, path := range args {
			started, err := app.SessionSvc.IngestFile(ctx, path, procedureType)
			if err != nil {
				return err
			}
			cmd.Printf("%s\tsession=%s\ttask=%s\n", path, started.Session.ID, started.TaskID)
		}
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueProcedureType, "procedure-type", "", "procedure type recorded on the session")
	rootCmd.AddCommand(enqueueCmd)
}
