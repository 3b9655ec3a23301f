package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"etikett/internal/dataset"
)

var missingOutput string

var missingCmd = &cobra.Command{
	Use:   "missing <catalog.csv> <results.csv>",
	Short: "Collect catalog records without a classification",
	Long: `Collect the catalog records that have no classified entry in a results
file and write them as a new catalog, ready for another run.

Records whose entry is an error or missing count as unclassified.

Examples:
  etikett missing products.csv products_classified.csv
  etikett missing products.csv products_classified.csv -o retry.csv`,
	Args: cobra.ExactArgs(2),
	RunE: runMissing,
}

func init() {
	missingCmd.Flags().StringVarP(&missingOutput, "output", "o", "missing.csv", "catalog file for the unclassified records")
	rootCmd.AddCommand(missingCmd)
}

func runMissing(cmd *cobra.Command, args []string) error {
	records, err := dataset.ReadRecords(args[0])
	if err != nil {
		return err
	}
	entries, err := dataset.ReadResults(args[1])
	if err != nil {
		return err
	}

	left := dataset.Missing(records, entries)
	if len(left) == 0 {
		fmt.Println("Every product is classified, nothing to reprocess")
		return nil
	}

	if err := dataset.WriteRecords(missingOutput, left); err != nil {
		return err
	}
	fmt.Printf("%d of %d products unclassified, written to %s\n", len(left), len(records), missingOutput)
	return nil
}
