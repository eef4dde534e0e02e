// Command haulfsctl is the operator CLI for haulfsd, grounded on
// cmd/dfsctl/commands/root.go's persistent-flag and subcommand wiring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/cli/output"
	"github.com/haulfs/haulfs/internal/cliclient"
)

// flags holds global flag values shared by every subcommand.
var flags struct {
	serverURL string
	token     string
	output    string
	force     bool
}

var rootCmd = &cobra.Command{
	Use:           "haulfsctl",
	Short:         "haulfsctl manages a running haulfsd server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flags.serverURL, "server", os.Getenv("HAULFSCTL_SERVER"), "haulfsd base URL")
	rootCmd.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("HAULFSCTL_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVarP(&flags.output, "output", "o", "table", "output format (table|json|yaml)")
	rootCmd.AddCommand(missingChunksCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// client builds a cliclient.Client from the global flags.
func client() (*cliclient.Client, error) {
	if flags.serverURL == "" {
		return nil, fmt.Errorf("no server URL configured; pass --server or set HAULFSCTL_SERVER")
	}
	return cliclient.New(flags.serverURL).WithToken(flags.token), nil
}

func outputFormat() (output.Format, error) {
	return output.ParseFormat(flags.output)
}
