package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"etikett/internal/config"
	"etikett/internal/models"
	"etikett/internal/store"
)

var statusRemote bool

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run and its jobs",
	Long: `Show a stored run with the last known state of each job.

With --remote, open jobs are polled against the batch service first and
the refreshed statuses persisted.

Examples:
  etikett status 1a2b3c4d
  etikett status 1a2b3c4d --remote`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusRemote, "remote", false, "poll the batch service for fresh job statuses")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := st.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	var jobs []models.Job
	if statusRemote && run.Backend == config.BackendBatch {
		pipe, err := newPipeline(ctx, run.Backend)
		if err != nil {
			return err
		}
		jobs, err = pipe.RefreshStatus(ctx, run.ID)
		if err != nil {
			return err
		}
	} else {
		jobs, err = st.GetJobs(ctx, run.ID)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("  State:   %s\n", run.State)
	fmt.Printf("  Backend: %s\n", run.Backend)
	fmt.Printf("  Input:   %s (%d records)\n", run.InputPath, run.RecordCount)
	fmt.Printf("  Output:  %s\n", run.OutputPath)
	fmt.Printf("  Started: %s\n", run.CreatedAt.Format(time.RFC3339))

	if len(jobs) == 0 {
		fmt.Println("\nNo jobs submitted yet")
		return nil
	}

	fmt.Printf("\n%-12s %-10s %-22s %s\n", "SHARD", "STATUS", "HANDLE", "DETAIL")
	fmt.Println("----------------------------------------------------------------")

	open := 0
	for _, job := range jobs {
		if !job.Status().Terminal() {
			open++
		}
		detail := job.Reason()
		if output, ok := job.Output(); ok {
			detail = fmt.Sprintf("%d bytes of output", len(output))
		}
		fmt.Printf("%-12s %-10s %-22s %s\n", job.ShardID, job.Status(), job.Handle, detail)
	}

	if open > 0 {
		fmt.Printf("\n%d job(s) still open\n", open)
	} else if run.State == store.RunActive {
		fmt.Printf("\nAll jobs settled. Run 'etikett resume %s' to write the results file.\n", run.ID)
	}
	return nil
}
