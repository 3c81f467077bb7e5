package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/reviewradar/reviewradar/internal/metrics"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status and operation metrics",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	status, err := srvClient.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Server version: %s\n", status.Version)
	fmt.Printf("Active jobs:    %d\n", status.ActiveJobs)

	var snap metrics.Snapshot
	if err := json.Unmarshal(status.Metrics, &snap); err != nil {
		return fmt.Errorf("decode metrics: %w", err)
	}
	fmt.Printf("Uptime:         %.0fs\n", snap.UptimeSeconds)

	printOp := func(name string, op *metrics.OperationSnapshot) {
		if op == nil || op.Count == 0 {
			return
		}
		fmt.Printf("  %-18s %5d calls  %4d failures  avg %6.0fms  min %4dms  max %4dms\n",
			name, op.Count, op.Failures, op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	}

	fmt.Println("\nOperations:")
	printOp("session", snap.SessionEstablish)
	printOp("navigate", snap.Navigate)
	printOp("extract", snap.Extract)
	printOp("sentiment", snap.Sentiment)
	printOp("themes", snap.Themes)
	printOp("persist", snap.Persist)

	return nil
}
