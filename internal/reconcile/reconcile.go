// Package reconcile reassembles per-job outputs into one complete,
// order-preserving result set over the original input.
package reconcile

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"etikett/internal/models"
	"etikett/internal/payload"
)

// ReconciliationError reports a job set that does not cover every shard.
// Correct callers never see it: it flags a bookkeeping bug, not bad input.
type ReconciliationError struct {
	Missing []string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("job set does not cover every shard: %s", strings.Join(e.Missing, ", "))
}

// Assemble produces exactly one entry per input record, in input order.
// Succeeded jobs contribute labels through their payload mappings; records
// a mapping expects but the output never names come back missing. Every
// record of a failed or expired shard comes back missing with the job's
// reason, and ERROR-marked answers come back with status error. Assemble
// refuses to run unless every shard has a terminal job and a mapping.
func Assemble(records []models.Record, shards []models.Shard, jobs []models.Job, mappings map[string]payload.Mapping) ([]models.ResultEntry, error) {
	byShard := make(map[string]models.Job, len(jobs))
	for _, j := range jobs {
		byShard[j.ShardID] = j
	}

	var uncovered []string
	for _, sh := range shards {
		j, ok := byShard[sh.ID]
		if !ok {
			uncovered = append(uncovered, sh.ID+": no job")
		} else if !j.Status().Terminal() {
			uncovered = append(uncovered, fmt.Sprintf("%s: job still %s", sh.ID, j.Status()))
		}
		if _, ok := mappings[sh.ID]; !ok {
			uncovered = append(uncovered, sh.ID+": no mapping")
		}
	}
	if len(uncovered) > 0 {
		sort.Strings(uncovered)
		return nil, &ReconciliationError{Missing: uncovered}
	}

	// One outcome per record ID, filled shard by shard.
	outcomes := make(map[string]models.ResultEntry, len(records))

	for _, sh := range shards {
		job := byShard[sh.ID]
		mapping := mappings[sh.ID]

		if st := job.Status(); st == models.JobFailed || st == models.JobExpired {
			reason := job.Reason()
			if reason == "" {
				reason = "job " + string(st)
			}
			fillMissing(outcomes, mapping.IDs(), reason)
			continue
		}

		output, _ := job.Output()
		responses, err := payload.DecodeOutput(output)
		if err != nil {
			// Unreadable output downgrades the shard to missing rather
			// than aborting the whole run.
			slog.Error("undecodable job output", "shard", sh.ID, "error", err)
			fillMissing(outcomes, mapping.IDs(), fmt.Sprintf("undecodable output: %v", err))
			continue
		}

		byCustomID := make(map[string]payload.Response, len(responses))
		for _, resp := range responses {
			if resp.CustomID == "" {
				slog.Warn("output line without custom id", "shard", sh.ID, "error", resp.Err)
				continue
			}
			byCustomID[resp.CustomID] = resp
		}

		for _, req := range mapping.Requests {
			resp, ok := byCustomID[req.CustomID]
			switch {
			case !ok:
				fillMissing(outcomes, req.IDs, "request absent from job output")
			case resp.Err != "":
				fillMissing(outcomes, req.IDs, resp.Err)
			default:
				fillFromAnswer(outcomes, req, resp.Content)
			}
		}
	}

	entries := make([]models.ResultEntry, 0, len(records))
	for _, r := range records {
		entry, ok := outcomes[r.ID]
		if !ok {
			// Covered shards guarantee an outcome for every mapped record,
			// so only a record that never entered any mapping lands here.
			entry = models.ResultEntry{ID: r.ID, Status: models.ResultMissing, Reason: "record absent from every job payload"}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// fillFromAnswer resolves one request's records against the model answer.
func fillFromAnswer(outcomes map[string]models.ResultEntry, req payload.RequestIDs, content string) {
	rows, err := payload.ParseRows(content)
	if err != nil {
		fillMissing(outcomes, req.IDs, fmt.Sprintf("unparseable answer: %v", err))
		return
	}

	expected := make(map[string]struct{}, len(req.IDs))
	for _, id := range req.IDs {
		expected[id] = struct{}{}
	}

	labels := make(map[string]string, len(rows))
	unexpected := 0
	for _, row := range rows {
		if _, ok := expected[row.SKU]; !ok {
			unexpected++
			continue
		}
		// First answer per SKU wins.
		if _, dup := labels[row.SKU]; dup {
			continue
		}
		labels[row.SKU] = row.Label
	}
	if unexpected > 0 {
		slog.Warn("answer names unknown records", "custom_id", req.CustomID, "count", unexpected)
	}

	for _, id := range req.IDs {
		label, ok := labels[id]
		switch {
		case !ok:
			outcomes[id] = models.ResultEntry{ID: id, Status: models.ResultMissing, Reason: "absent from answer"}
		case strings.HasPrefix(label, "ERROR"):
			outcomes[id] = models.ResultEntry{ID: id, Status: models.ResultError, Reason: label}
		default:
			outcomes[id] = models.ResultEntry{ID: id, Label: label, Status: models.ResultClassified}
		}
	}
}

func fillMissing(outcomes map[string]models.ResultEntry, ids []string, reason string) {
	for _, id := range ids {
		outcomes[id] = models.ResultEntry{ID: id, Status: models.ResultMissing, Reason: reason}
	}
}
