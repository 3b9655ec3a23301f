// Package batch tracks external classification jobs from submission to a
// terminal state: a shared registry of jobs, a retrying submitter, and a
// concurrent monitor that polls until every job resolves.
package batch

import (
	"context"
	"fmt"

	"etikett/internal/models"
)

// PollResult is one observation of a remote job.
type PollResult struct {
	Status models.JobStatus
	// Output carries the raw result file for succeeded jobs.
	Output []byte
	// Reason explains failed and expired observations.
	Reason string
}

// Service is the boundary to the external batch processor: hand over a
// payload, then ask about it until it resolves. Any queue with these two
// operations can stand behind the pipeline.
type Service interface {
	// Submit hands one serialized payload to the service and returns the
	// opaque handle to poll it by.
	Submit(ctx context.Context, shardID string, body []byte) (string, error)
	// Poll reports the current state of a submitted payload.
	Poll(ctx context.Context, handle string) (PollResult, error)
}

// ApplyPoll folds one poll observation into the registry.
func ApplyPoll(reg *Registry, shardID string, res PollResult) error {
	switch res.Status {
	case models.JobPending:
		return nil
	case models.JobRunning:
		return reg.SetRunning(shardID)
	case models.JobSucceeded:
		return reg.Succeed(shardID, res.Output)
	case models.JobFailed:
		return reg.Fail(shardID, res.Reason)
	case models.JobExpired:
		return reg.Expire(shardID, res.Reason)
	default:
		return fmt.Errorf("unknown poll status %q for %s", res.Status, shardID)
	}
}
