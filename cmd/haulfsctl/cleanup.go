package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/cli/output"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Trigger one maintenance sweep on the server and print its report",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	format, err := outputFormat()
	if err != nil {
		return err
	}

	report, err := c.Cleanup(cmd.Context())
	if err != nil {
		return fmt.Errorf("trigger cleanup: %w", err)
	}
	return output.Print(os.Stdout, format, report)
}
