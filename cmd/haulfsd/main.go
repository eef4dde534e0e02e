// Command haulfsd runs the resumable chunked-upload server. Startup
// follows a fixed sequence (logger → telemetry → profiling → server).
// haulfsd always runs in the foreground, leaving backgrounding to the
// operator's process supervisor (systemd, Kubernetes) rather than
// forking itself — see DESIGN.md.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/buildinfo"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "haulfsd",
	Short:         "haulfsd serves resumable, chunked file uploads and downloads",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/haulfs/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildinfo.Get()
		fmt.Printf("haulfsd %s (%s, built %s)\n", info.Version, info.Commit, info.Date)
		fmt.Printf("  %s %s/%s\n", info.GoVersion, info.OS, info.Arch)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// appContext returns a context cancelled on SIGINT/SIGTERM.
func appContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
