package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "loomgen",
	Short: "Run resumable LLM generation pipelines",
	Long: `loomgen executes batch generation pipelines against LLM providers.
Every model call is content-addressed and cached, failed calls are retried
with exponential backoff, and completed work items are checkpointed so an
interrupted run picks up where it left off.`,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
