package models

// Shard is an ordered, bounded-size grouping of records submitted as one
// external job. The content hash identifies the shard across runs and
// processes and doubles as the submission idempotency key.
type Shard struct {
	Index       int
	ID          string
	Records     []Record
	ContentHash string
}
