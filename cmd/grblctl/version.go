package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// These variables are set via ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "grblctl version %s\n", Version)
		if Commit != "" && Commit != "unknown" {
			fmt.Fprintf(out, "commit: %s\n", Commit)
		}
		if BuildDate != "" && BuildDate != "unknown" {
			fmt.Fprintf(out, "built at: %s\n", BuildDate)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
