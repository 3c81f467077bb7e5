package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report <job-id> <item-id>",
	Short: "Fetch a stored item report",
	Long: `Fetch the stored report for one item of a terminal job.

Reports are available once the job has completed, failed or been
cancelled. The json format returns the stored document; txt renders a
human-readable summary.

Examples:
  reviewradar report job_a1b2c3d4 B0ABCD1234
  reviewradar report job_a1b2c3d4 B0ABCD1234 --format txt
  reviewradar report job_a1b2c3d4 B0ABCD1234 -o report.json`,
	Args: cobra.ExactArgs(2),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "json", "output format: json or txt")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "write output to file")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := srvClient.GetReport(ctx, args[0], args[1], reportFormat)
	if err != nil {
		return fmt.Errorf("get report: %w", err)
	}

	if reportOutput != "" {
		if err := os.WriteFile(reportOutput, data, 0o644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportOutput)
		return nil
	}

	os.Stdout.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
