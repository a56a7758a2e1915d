package main

import (
	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [run-id]",
	Short: "Cancel a queued run",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	if err := newClient().CancelRun(cmd.Context(), args[0]); err != nil {
		return err
	}
	cmd.Printf("Run %s cancelled\n", args[0])
	return nil
}
