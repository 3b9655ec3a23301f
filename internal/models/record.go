// Package models defines the data shapes passed between pipeline stages.
package models

// Record is one classifiable input row: a stable key (the SKU) plus the
// German product title tied to it. IDs are unique within a run; the dataset
// loader merges duplicates before records reach the pipeline.
type Record struct {
	ID   string
	Text string
}
