package main

import (
	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := buildinfo.Get()
		cmd.Printf("haulfsctl %s (%s, built %s)\n", info.Version, info.Commit, info.Date)
		cmd.Printf("  %s %s/%s\n", info.GoVersion, info.OS, info.Arch)
	},
}
