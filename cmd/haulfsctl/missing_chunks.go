package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/cli/output"
)

var missingChunksCmd = &cobra.Command{
	Use:   "missing-chunks <upload-id>",
	Short: "List the chunk indexes an upload still needs",
	Args:  cobra.ExactArgs(1),
	RunE:  runMissingChunks,
}

type chunkList []int32

func (l chunkList) Headers() []string { return []string{"INDEX"} }

func (l chunkList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, idx := range l {
		rows = append(rows, []string{strconv.FormatInt(int64(idx), 10)})
	}
	return rows
}

func runMissingChunks(cmd *cobra.Command, args []string) error {
	c, err := client()
	if err != nil {
		return err
	}
	format, err := outputFormat()
	if err != nil {
		return err
	}

	missing, err := c.MissingChunks(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if format == output.FormatTable && len(missing) == 0 {
		cmd.Println("No missing chunks; upload is ready to complete.")
		return nil
	}
	return output.Print(os.Stdout, format, chunkList(missing))
}
