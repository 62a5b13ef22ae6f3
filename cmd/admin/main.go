// Package main provides the operational CLI for the interaction discovery
// service.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the admin CLI.
var rootCmd = &cobra.Command{
	Use:   "discovery-admin",
	Short: "Operational commands for the interaction discovery service",
	Long: `discovery-admin runs maintenance operations against the interaction
discovery service database. Configuration is read the same way the server
reads it: DISCOVERY_* environment variables plus an optional config.yaml.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
