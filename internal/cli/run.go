package cli

import (
	"context"

	"github.com/spf13/cobra"

	"etikett/internal/config"
	"etikett/internal/service"
)

var (
	runOutput string
	runDirect bool
)

var runCmd = &cobra.Command{
	Use:   "run <catalog.csv>",
	Short: "Classify a product catalog",
	Long: `Submit a catalog of product titles for classification.

The catalog needs a sku column and a product title column. Results land in
<catalog>_classified.csv unless -o names another file. A run survives its
process: cancel any time and pick it up again with 'etikett resume'.

Examples:
  etikett run products.csv
  etikett run products.csv -o labeled.csv
  etikett run products.csv --direct`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "results file (default <catalog>_classified.csv)")
	runCmd.Flags().BoolVar(&runDirect, "direct", false, "call chat completions synchronously instead of the batch service")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := runOutput
	if output == "" {
		output = defaultOutputPath(input)
	}

	backend := cfg.Backend
	if runDirect {
		backend = config.BackendDirect
	}

	ctx := cmd.Context()
	pipe, err := newPipeline(ctx, backend)
	if err != nil {
		return err
	}

	if interactive {
		return runWithProgress(ctx, pipe, func(ctx context.Context) (*service.Report, error) {
			return pipe.Run(ctx, input, output)
		})
	}

	report, err := pipe.Run(ctx, input, output)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}
