package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Long: `Request cooperative cancellation of a running job.

The job finishes its in-flight operation, marks the remaining items as
skipped and settles as cancelled. Cancelling an already cancelled job
is a no-op.

Example:
  reviewradar cancel job_a1b2c3d4`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := srvClient.CancelJob(ctx, args[0]); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	fmt.Printf("Cancellation requested for job %s\n", args[0])
	return nil
}
