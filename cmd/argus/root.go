// Command argus runs the news-analysis pipeline: feed ingestion, the
// decision and analysis worker pools, and the small HTTP API mobile
// clients use to manage device subscriptions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "argus",
	Short: "Argus runs the continuous news-analysis pipeline",
	Long: `Argus watches a configured list of syndication feeds, runs every new
article through a threat/topic decision cascade, then through a deeper
analysis battery that extracts entities, embeds, clusters, and notifies
subscribed devices. One invocation runs the whole pipeline; migrate only
applies the schema.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}
