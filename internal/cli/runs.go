package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Long: `List stored runs, newest first.

Examples:
  etikett runs`,
	Args: cobra.NoArgs,
	RunE: runRuns,
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	runs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-9s %8s  %-17s %s\n", "ID", "STATE", "BACKEND", "RECORDS", "STARTED", "INPUT")
	fmt.Println("--------------------------------------------------------------------------")
	for _, run := range runs {
		fmt.Printf("%-10s %-10s %-9s %8d  %-17s %s\n",
			run.ID, run.State, run.Backend, run.RecordCount,
			run.CreatedAt.Format("2006-01-02 15:04"), run.InputPath)
	}
	return nil
}
