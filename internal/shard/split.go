// Package shard partitions ordered record sets into bounded-size shards.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"etikett/internal/models"
)

// ConfigurationError reports invalid chunking input, caught before any
// submission work starts.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// Split partitions records into shards of at most size records, preserving
// input order within and across shards. Every record lands in exactly one
// shard, so len(records) records always produce ceil(len(records)/size)
// shards. Record IDs must be unique across the whole input.
func Split(records []models.Record, size int) ([]models.Shard, error) {
	if size <= 0 {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("shard size must be positive, got %d", size)}
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, &ConfigurationError{Msg: "record with empty ID"}
		}
		if _, dup := seen[r.ID]; dup {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("duplicate record ID %q", r.ID)}
		}
		seen[r.ID] = struct{}{}
	}

	shards := make([]models.Shard, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		idx := len(shards)
		recs := records[start:end]
		shards = append(shards, models.Shard{
			Index:       idx,
			ID:          fmt.Sprintf("shard_%d", idx),
			Records:     recs,
			ContentHash: contentHash(recs),
		})
	}
	return shards, nil
}

// contentHash derives the submission idempotency key from shard contents.
// The same records in the same order hash the same, across runs and
// processes.
func contentHash(records []models.Record) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(r.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
