package cli

import (
	"context"

	"github.com/spf13/cobra"

	"etikett/internal/service"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run",
	Long: `Pick up a run whose process died or was cancelled.

Shards already submitted are reattached by content hash and never submitted
twice; only unfinished work continues. Resuming a run whose jobs have all
settled just reconciles and writes the results file.

Examples:
  etikett resume 1a2b3c4d`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := st.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	pipe, err := newPipeline(ctx, run.Backend)
	if err != nil {
		return err
	}

	if interactive {
		return runWithProgress(ctx, pipe, func(ctx context.Context) (*service.Report, error) {
			return pipe.Resume(ctx, run.ID)
		})
	}

	report, err := pipe.Resume(ctx, run.ID)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}
