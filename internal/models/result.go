package models

// ResultStatus classifies one reconciled output row.
type ResultStatus string

const (
	// ResultClassified marks a row that received a usable label.
	ResultClassified ResultStatus = "classified"
	// ResultError marks a row the model answered with an ERROR marker.
	ResultError ResultStatus = "error"
	// ResultMissing marks a row no terminal job produced a label for.
	ResultMissing ResultStatus = "missing"
)

// ResultEntry is one reconciled output row. Reconciliation emits exactly
// one entry per input record, in input order. Label is set only on
// classified rows; Reason explains error and missing rows.
type ResultEntry struct {
	ID     string
	Label  string
	Status ResultStatus
	Reason string
}
