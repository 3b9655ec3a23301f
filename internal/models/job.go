package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of one external submission.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobExpired   JobStatus = "expired"
)

// Terminal reports whether no further transitions can occur.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobExpired
}

// isAllowedTransition encodes the job lifecycle: pending -> running ->
// {succeeded, failed, expired}. A poll may observe a terminal state before
// ever seeing the job run, so pending can also jump straight to any
// terminal status.
func isAllowedTransition(from, to JobStatus) bool {
	switch from {
	case JobPending:
		return to == JobRunning || to.Terminal()
	case JobRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Job is one external submission derived from exactly one shard. Status and
// terminal data only change through the transition methods, which reject
// anything that would move a job backward. Only a succeeded job exposes
// output; failed and expired jobs carry a reason instead.
type Job struct {
	Handle      string
	ShardID     string
	ShardIndex  int
	ContentHash string
	SubmittedAt time.Time

	status JobStatus
	output []byte
	reason string
}

// NewJob returns a pending job for a freshly submitted shard.
func NewJob(handle string, shard Shard, submittedAt time.Time) Job {
	return Job{
		Handle:      handle,
		ShardID:     shard.ID,
		ShardIndex:  shard.Index,
		ContentHash: shard.ContentHash,
		SubmittedAt: submittedAt,
		status:      JobPending,
	}
}

// NewFailedJob returns a job that never reached the service, for shards
// whose submission was abandoned after the retry budget ran out. The handle
// stays empty.
func NewFailedJob(shard Shard, reason string, at time.Time) Job {
	return Job{
		ShardID:     shard.ID,
		ShardIndex:  shard.Index,
		ContentHash: shard.ContentHash,
		SubmittedAt: at,
		status:      JobFailed,
		reason:      reason,
	}
}

// RestoreJob rebuilds a persisted job. Terminal data must match the status:
// output only on succeeded jobs, a reason never on them.
func RestoreJob(handle, shardID string, shardIndex int, contentHash string, submittedAt time.Time, status JobStatus, output []byte, reason string) (Job, error) {
	switch status {
	case JobPending, JobRunning, JobSucceeded, JobFailed, JobExpired:
	default:
		return Job{}, fmt.Errorf("unknown job status %q", status)
	}
	if status != JobSucceeded && len(output) > 0 {
		return Job{}, fmt.Errorf("job %s: %s status cannot carry output", shardID, status)
	}
	if status == JobSucceeded && reason != "" {
		return Job{}, fmt.Errorf("job %s: succeeded status cannot carry a reason", shardID)
	}
	return Job{
		Handle:      handle,
		ShardID:     shardID,
		ShardIndex:  shardIndex,
		ContentHash: contentHash,
		SubmittedAt: submittedAt,
		status:      status,
		output:      output,
		reason:      reason,
	}, nil
}

// Status returns the current lifecycle state.
func (j *Job) Status() JobStatus { return j.status }

// SetRunning records that the service has started working on the job.
func (j *Job) SetRunning() error { return j.transition(JobRunning) }

// Succeed finishes the job with its downloaded result payload.
func (j *Job) Succeed(output []byte) error {
	if err := j.transition(JobSucceeded); err != nil {
		return err
	}
	j.output = output
	return nil
}

// Fail finishes the job with an explicit error reported by the service.
func (j *Job) Fail(reason string) error {
	if err := j.transition(JobFailed); err != nil {
		return err
	}
	j.reason = reason
	return nil
}

// Expire finishes a job that never resolved within its wait budget. Expired
// is distinct from failed: the service reported an error for failed jobs,
// while an expired job simply outlived the time we were willing to wait.
func (j *Job) Expire(reason string) error {
	if err := j.transition(JobExpired); err != nil {
		return err
	}
	j.reason = reason
	return nil
}

func (j *Job) transition(to JobStatus) error {
	if !isAllowedTransition(j.status, to) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ShardID, j.status, to)
	}
	j.status = to
	return nil
}

// Output returns the result payload of a succeeded job. The second return
// is false for every other status, so callers cannot misread a failed job
// as carrying results.
func (j *Job) Output() ([]byte, bool) {
	if j.status != JobSucceeded {
		return nil, false
	}
	return j.output, true
}

// Reason returns the failure or expiry detail, empty for other statuses.
func (j *Job) Reason() string { return j.reason }
