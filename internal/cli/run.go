package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/service"
	"github.com/spf13/cobra"
)

var (
	runDetach bool
	runFollow bool
)

var runCmd = &cobra.Command{
	Use:   "run <item-id>...",
	Short: "Submit a batch of items for analysis",
	Long: `Submit a batch of item identifiers and watch it run.

By default an interactive progress display tracks the job until it
reaches a terminal state. Use --detach to submit and return immediately,
or --follow to print the raw event stream instead of the progress bar.

Examples:
  reviewradar run B0ABCD1234
  reviewradar run B0ABCD1234 B0EFGH5678 --follow
  reviewradar run B0ABCD1234 --detach`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "submit and return without waiting")
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "print the event stream instead of the progress display")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	job, err := srvClient.CreateJob(ctx, args)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	fmt.Printf("Job %s accepted (%d items)\n", job.JobID, len(job.Items))

	if runDetach {
		fmt.Printf("Use 'reviewradar jobs %s' to check status.\n", job.JobID)
		return nil
	}

	if runFollow {
		return followEvents(ctx, job.JobID)
	}
	return RunJobProgress(srvClient, job)
}

// followEvents streams the job's events as plain lines until the
// server closes the stream.
func followEvents(ctx context.Context, jobID string) error {
	err := srvClient.SubscribeEvents(ctx, jobID, func(ev events.Event) error {
		line := fmt.Sprintf("%s  %-15s %-9s", ev.Timestamp.Format("15:04:05"), ev.Stage, ev.Kind)
		if ev.ItemID != "" {
			line += "  " + ev.ItemID
		}
		if len(ev.Payload) > 0 {
			var parts []string
			for k, v := range ev.Payload {
				parts = append(parts, fmt.Sprintf("%s=%v", k, v))
			}
			line += "  " + strings.Join(parts, " ")
		}
		fmt.Println(line)
		return nil
	})
	if err != nil {
		return fmt.Errorf("follow events: %w", err)
	}

	job, err := srvClient.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printSummary(job.Summary)
	if job.Status == service.JobStatusFailed {
		return fmt.Errorf("job failed: %s", job.Error)
	}
	return nil
}
