package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"etikett/internal/dataset"
	"etikett/internal/models"
)

var combineOutput string

var combineCmd = &cobra.Command{
	Use:   "combine <results.csv>...",
	Short: "Merge results files into one",
	Long: `Merge results files into one. The first classified entry per product
wins; a later classified entry only replaces an earlier error or missing
row. Unresolved rows are kept so nothing drops out of the combined file.

Examples:
  etikett combine products_classified.csv retry_classified.csv
  etikett combine a.csv b.csv c.csv -o all.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCombine,
}

func init() {
	combineCmd.Flags().StringVarP(&combineOutput, "output", "o", "combined.csv", "combined results file")
	rootCmd.AddCommand(combineCmd)
}

func runCombine(cmd *cobra.Command, args []string) error {
	sets := make([][]models.ResultEntry, 0, len(args))
	for _, path := range args {
		entries, err := dataset.ReadResults(path)
		if err != nil {
			return err
		}
		sets = append(sets, entries)
	}

	combined := dataset.Combine(sets...)
	if err := dataset.WriteResults(combineOutput, combined); err != nil {
		return err
	}

	classified := 0
	for _, entry := range combined {
		if entry.Status == models.ResultClassified {
			classified++
		}
	}
	fmt.Printf("%d rows combined into %s (%d classified)\n", len(combined), combineOutput, classified)
	return nil
}
