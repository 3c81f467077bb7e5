// Package cli provides the command-line interface for reviewradar.
package cli

import (
	"log/slog"
	"os"

	"github.com/reviewradar/reviewradar/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Shared server client, created before every command runs.
	srvClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reviewradar",
	Short: "Batch product review analysis",
	Long: `ReviewRadar runs batches of product pages through scraping and
LLM analysis and produces per-item sentiment and theme reports.

Submit a batch of item identifiers, watch its progress live, and pull
the stored reports once the job finishes.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		srvClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default REVIEWRADAR_SERVER_URL or http://localhost:8077)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(statusCmd)
}
