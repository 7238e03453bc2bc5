package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snaptutor",
		Short: "snaptutor - explains photographed homework problems",
		Long: `snaptutor accepts an image of a math or science problem, asks a vision
model for a step-by-step explanation in the background, and serves the
results and follow-up questions over HTTP.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newWorkerCommand())
	cmd.AddCommand(newMigrateCommand())

	return cmd
}
