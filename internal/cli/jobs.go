package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/spf13/cobra"
)

var jobsDelete bool

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect batch jobs",
	Long: `List all jobs known to the server or inspect a specific job by ID.

Examples:
  reviewradar jobs               # List all jobs
  reviewradar jobs job_a1b2c3d4  # Show details for one job
  reviewradar jobs job_a1b2c3d4 --delete`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().BoolVar(&jobsDelete, "delete", false, "delete the job and its retained reports")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		if jobsDelete {
			return deleteJob(ctx, args[0])
		}
		return showJob(ctx, args[0])
	}

	if jobsDelete {
		return fmt.Errorf("--delete requires a job ID")
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := srvClient.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-14s %-12s %-10s %s\n", "ID", "STATUS", "ITEMS", "CREATED")
	fmt.Println("--------------------------------------------------")

	for _, job := range jobs {
		items := fmt.Sprintf("%d", len(job.Items))
		if job.Summary != nil {
			items = fmt.Sprintf("%d/%d", job.Summary.Succeeded, job.Summary.Count)
		}
		created := job.CreatedAt.Format("15:04:05")
		fmt.Printf("%-14s %-12s %-10s %s\n", job.JobID, job.Status, items, created)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := srvClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.JobID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Items: %d\n", len(job.Items))
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		duration := job.CompletedAt.Sub(job.CreatedAt)
		fmt.Printf("  Duration: %s\n", duration.Round(time.Second))
	}
	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	if len(job.Runs) > 0 {
		fmt.Println("\nItems:")
		for _, itemID := range job.Items {
			run, ok := job.Runs[itemID]
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %-14s %s", run.ItemID, run.Status)
			if run.Status == "in_progress" && run.Stage != "" {
				line += fmt.Sprintf(" (%s, attempt %d)", run.Stage, run.Attempt)
			}
			if run.Error != "" {
				line += "  " + run.Error
			}
			fmt.Println(line)
		}
	}

	printSummary(job.Summary)
	return nil
}

func deleteJob(ctx context.Context, id string) error {
	if err := srvClient.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	fmt.Printf("Job %s deleted\n", id)
	return nil
}

// printSummary writes the batch rollup to stdout.
func printSummary(s *report.Summary) {
	if s == nil {
		return
	}
	fmt.Println("\nSummary:")
	fmt.Print(renderSummary(s))
}
