package dataset

import (
	"log/slog"

	"etikett/internal/models"
)

// Missing returns the catalog records that have no classified entry in the
// results, in catalog order. Error and missing rows both count as
// unprocessed so their products land in the reprocessing file.
func Missing(records []models.Record, entries []models.ResultEntry) []models.Record {
	classified := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.Status == models.ResultClassified {
			classified[e.ID] = struct{}{}
		}
	}

	var missing []models.Record
	for _, rec := range records {
		if _, ok := classified[rec.ID]; !ok {
			missing = append(missing, rec)
		}
	}
	return missing
}

// Combine merges result sets into one entry per sku. The first entry for a
// sku wins; a later classified entry replaces it only when the kept one is
// not classified, so reruns can fill gaps without rewriting settled labels.
func Combine(sets ...[]models.ResultEntry) []models.ResultEntry {
	var (
		out      []models.ResultEntry
		position = make(map[string]int)
		replaced int
	)
	for _, set := range sets {
		for _, e := range set {
			pos, ok := position[e.ID]
			if !ok {
				position[e.ID] = len(out)
				out = append(out, e)
				continue
			}
			if out[pos].Status != models.ResultClassified && e.Status == models.ResultClassified {
				out[pos] = e
				replaced++
			}
		}
	}
	if replaced > 0 {
		slog.Info("combined results upgraded rows", "replaced", replaced)
	}
	return out
}
