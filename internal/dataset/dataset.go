// Package dataset reads product catalogs and reads and writes
// classification results as CSV files.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"etikett/internal/models"
)

// titleColumns lists the header names catalogs use for the German product
// title, tried in order.
var titleColumns = []string{"product_title-de", "Product Title (DE)", "product_title_de"}

const skuColumn = "sku"

// ReadRecords loads a product catalog. The file needs a sku column and one
// of the known title columns; rows with an empty sku or title are skipped,
// and a sku seen twice keeps its first row.
func ReadRecords(path string) ([]models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read catalog header: %w", err)
	}

	skuIdx := findColumn(header, skuColumn)
	if skuIdx < 0 {
		return nil, fmt.Errorf("catalog %s has no %q column", path, skuColumn)
	}
	titleIdx := findColumn(header, titleColumns...)
	if titleIdx < 0 {
		return nil, fmt.Errorf("catalog %s has no title column (looked for %s)", path, strings.Join(titleColumns, ", "))
	}

	var (
		records    []models.Record
		seen       = make(map[string]struct{})
		skipped    int
		duplicates int
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read catalog row: %w", err)
		}
		sku := fieldAt(row, skuIdx)
		title := fieldAt(row, titleIdx)
		if sku == "" || title == "" {
			skipped++
			continue
		}
		if _, ok := seen[sku]; ok {
			duplicates++
			continue
		}
		seen[sku] = struct{}{}
		records = append(records, models.Record{ID: sku, Text: title})
	}

	if skipped > 0 || duplicates > 0 {
		slog.Warn("catalog rows dropped",
			"path", path,
			"empty", skipped,
			"duplicate_sku", duplicates,
		)
	}
	slog.Info("catalog loaded", "path", path, "records", len(records))
	return records, nil
}

// WriteRecords writes records back out in catalog shape, for feeding
// unprocessed products into another run.
func WriteRecords(path string, records []models.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{skuColumn, "product_title_de"}); err != nil {
		return fmt.Errorf("write catalog header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write([]string{rec.ID, rec.Text}); err != nil {
			return fmt.Errorf("write catalog row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush catalog: %w", err)
	}
	return nil
}

// WriteResults writes one row per reconciled entry.
func WriteResults(path string, entries []models.ResultEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{skuColumn, "product_type_de", "status", "reason"}); err != nil {
		return fmt.Errorf("write results header: %w", err)
	}
	for _, e := range entries {
		if err := w.Write([]string{e.ID, e.Label, string(e.Status), e.Reason}); err != nil {
			return fmt.Errorf("write results row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

// ReadResults loads a results file. Files written by WriteResults carry a
// status column; older two-column files (sku, product_type_de) get their
// status derived from the label.
func ReadResults(path string) ([]models.ResultEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read results header: %w", err)
	}
	skuIdx := findColumn(header, skuColumn)
	if skuIdx < 0 {
		return nil, fmt.Errorf("results %s has no %q column", path, skuColumn)
	}
	labelIdx := findColumn(header, "product_type_de")
	if labelIdx < 0 {
		return nil, fmt.Errorf("results %s has no product_type_de column", path)
	}
	statusIdx := findColumn(header, "status")
	reasonIdx := findColumn(header, "reason")

	var entries []models.ResultEntry
	line := 1
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read results row: %w", err)
		}
		line++

		e := models.ResultEntry{
			ID:    fieldAt(row, skuIdx),
			Label: fieldAt(row, labelIdx),
		}
		if statusIdx >= 0 {
			e.Status = models.ResultStatus(fieldAt(row, statusIdx))
		}
		if reasonIdx >= 0 {
			e.Reason = fieldAt(row, reasonIdx)
		}
		if e.Status == "" {
			e = deriveStatus(e)
		}
		switch e.Status {
		case models.ResultClassified, models.ResultError, models.ResultMissing:
		default:
			return nil, fmt.Errorf("results %s line %d: unknown status %q", path, line, e.Status)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// deriveStatus reconstructs a status for rows from files predating the
// status column. Those files flagged failures with an ERROR marker in the
// sku or label cell.
func deriveStatus(e models.ResultEntry) models.ResultEntry {
	switch {
	case strings.HasPrefix(e.ID, "ERROR") || strings.HasPrefix(e.Label, "ERROR"):
		e.Status = models.ResultError
		if e.Reason == "" {
			e.Reason = e.Label
		}
		e.Label = ""
	case e.Label == "":
		e.Status = models.ResultMissing
	default:
		e.Status = models.ResultClassified
	}
	return e
}

func findColumn(header []string, names ...string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}

func fieldAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
