package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/cli/prompt"
)

var abortCmd = &cobra.Command{
	Use:   "abort <upload-id>",
	Short: "Abort an in-progress upload and release its reserved storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runAbort,
}

func init() {
	abortCmd.Flags().BoolVarP(&flags.force, "force", "f", false, "skip confirmation prompt")
}

func runAbort(cmd *cobra.Command, args []string) error {
	uploadID := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Abort upload %q?", uploadID), flags.force)
	if err != nil {
		if prompt.IsAborted(err) {
			cmd.Println("Aborted.")
			return nil
		}
		return err
	}
	if !confirmed {
		cmd.Println("Aborted.")
		return nil
	}

	c, err := client()
	if err != nil {
		return err
	}
	if err := c.Abort(cmd.Context(), uploadID); err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	cmd.Printf("upload %q aborted\n", uploadID)
	return nil
}
