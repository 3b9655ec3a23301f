package shard

import (
	"errors"
	"fmt"
	"testing"

	"etikett/internal/models"
)

func makeRecords(n int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{
			ID:   fmt.Sprintf("SKU-%04d", i),
			Text: fmt.Sprintf("Produkt %d", i),
		}
	}
	return records
}

func TestSplitShardCounts(t *testing.T) {
	tests := []struct {
		name       string
		records    int
		size       int
		wantShards int
		wantSizes  []int
	}{
		{"empty input", 0, 10, 0, nil},
		{"fewer records than size", 3, 10, 1, []int{3}},
		{"exact multiple", 10, 5, 2, []int{5, 5}},
		{"remainder in last shard", 11, 5, 3, []int{5, 5, 1}},
		{"size of one", 4, 1, 4, []int{1, 1, 1, 1}},
		{"single record", 1, 500, 1, []int{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shards, err := Split(makeRecords(tt.records), tt.size)
			if err != nil {
				t.Fatalf("Split returned error: %v", err)
			}
			if len(shards) != tt.wantShards {
				t.Fatalf("got %d shards, want %d", len(shards), tt.wantShards)
			}
			for i, sh := range shards {
				if len(sh.Records) != tt.wantSizes[i] {
					t.Errorf("shard %d has %d records, want %d", i, len(sh.Records), tt.wantSizes[i])
				}
				if sh.Index != i {
					t.Errorf("shard %d has index %d", i, sh.Index)
				}
				if want := fmt.Sprintf("shard_%d", i); sh.ID != want {
					t.Errorf("shard %d has ID %q, want %q", i, sh.ID, want)
				}
			}
		})
	}
}

func TestSplitPreservesOrder(t *testing.T) {
	records := makeRecords(23)
	shards, err := Split(records, 7)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}

	var flat []models.Record
	for _, sh := range shards {
		flat = append(flat, sh.Records...)
	}
	if len(flat) != len(records) {
		t.Fatalf("flattened to %d records, want %d", len(flat), len(records))
	}
	for i, r := range flat {
		if r.ID != records[i].ID {
			t.Errorf("position %d holds %q, want %q", i, r.ID, records[i].ID)
		}
	}
}

func TestSplitInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1, -500} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			_, err := Split(makeRecords(5), size)
			var confErr *ConfigurationError
			if !errors.As(err, &confErr) {
				t.Fatalf("got error %v, want ConfigurationError", err)
			}
		})
	}
}

func TestSplitRejectsDuplicateIDs(t *testing.T) {
	records := []models.Record{
		{ID: "SKU-1", Text: "Stuhl"},
		{ID: "SKU-2", Text: "Tisch"},
		{ID: "SKU-1", Text: "Stuhl (Kopie)"},
	}
	_, err := Split(records, 10)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("got error %v, want ConfigurationError", err)
	}
}

func TestSplitRejectsEmptyID(t *testing.T) {
	records := []models.Record{{ID: "", Text: "Stuhl"}}
	_, err := Split(records, 10)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("got error %v, want ConfigurationError", err)
	}
}

func TestContentHashStable(t *testing.T) {
	a, err := Split(makeRecords(10), 4)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	b, err := Split(makeRecords(10), 4)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	for i := range a {
		if a[i].ContentHash != b[i].ContentHash {
			t.Errorf("shard %d hash differs between identical inputs", i)
		}
	}
}

func TestContentHashDistinguishesContent(t *testing.T) {
	base := []models.Record{{ID: "SKU-1", Text: "Stuhl"}, {ID: "SKU-2", Text: "Tisch"}}
	changedText := []models.Record{{ID: "SKU-1", Text: "Stuhl"}, {ID: "SKU-2", Text: "Lampe"}}
	// Field boundaries must matter: shifting a byte between ID and text is
	// a different shard.
	shifted := []models.Record{{ID: "SKU-1S", Text: "tuhl"}, {ID: "SKU-2", Text: "Tisch"}}

	hash := func(records []models.Record) string {
		shards, err := Split(records, 10)
		if err != nil {
			t.Fatalf("Split returned error: %v", err)
		}
		return shards[0].ContentHash
	}

	baseHash := hash(base)
	if baseHash == hash(changedText) {
		t.Error("hash unchanged after text change")
	}
	if baseHash == hash(shifted) {
		t.Error("hash unchanged after shifting bytes across the ID boundary")
	}
}
