package batch

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"etikett/internal/models"
)

// Registry is the one shared set of jobs for a run. The orchestrating
// caller constructs it and hands it to the submitter and monitor; the
// submitter inserts, the monitor transitions, and everything handed out is
// a value copy taken under the lock.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]*models.Job // keyed by shard ID
	byHash map[string]string      // content hash -> shard ID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:   make(map[string]*models.Job),
		byHash: make(map[string]string),
	}
}

// Add inserts a job. Shard IDs and content hashes must be unique within
// the registry.
func (r *Registry) Add(job models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ShardID]; exists {
		return fmt.Errorf("registry already holds a job for %s", job.ShardID)
	}
	if prior, exists := r.byHash[job.ContentHash]; exists {
		return fmt.Errorf("content hash of %s already registered by %s", job.ShardID, prior)
	}
	j := job
	r.jobs[job.ShardID] = &j
	r.byHash[job.ContentHash] = job.ShardID
	return nil
}

// Lookup finds the job already registered for a content hash, whatever its
// status. A failed job counts too: its shard is rerun through the missing
// flow, never resubmitted under the same registry.
func (r *Registry) Lookup(contentHash string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shardID, ok := r.byHash[contentHash]
	if !ok {
		return models.Job{}, false
	}
	return *r.jobs[shardID], true
}

// Get returns the job for a shard.
func (r *Registry) Get(shardID string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[shardID]
	if !ok {
		return models.Job{}, false
	}
	return *j, true
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Snapshot returns value copies of every job, ordered by shard index. Each
// copy is taken while holding the lock, so a snapshot never shows a job
// mid-transition.
func (r *Registry) Snapshot() []models.Job {
	r.mu.RLock()
	jobs := make([]models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, *j)
	}
	r.mu.RUnlock()

	slices.SortFunc(jobs, func(a, b models.Job) int {
		return a.ShardIndex - b.ShardIndex
	})
	return jobs
}

// Outstanding returns the jobs still short of a terminal state, ordered by
// shard index.
func (r *Registry) Outstanding() []models.Job {
	var open []models.Job
	for _, j := range r.Snapshot() {
		if !j.Status().Terminal() {
			open = append(open, j)
		}
	}
	return open
}

// CountByStatus tallies jobs per lifecycle state.
func (r *Registry) CountByStatus() map[models.JobStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[models.JobStatus]int, 5)
	for _, j := range r.jobs {
		counts[j.Status()]++
	}
	return counts
}

// SetRunning moves a pending job to running. Observing running more than
// once is normal during polling and stays a no-op.
func (r *Registry) SetRunning(shardID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[shardID]
	if !ok {
		return fmt.Errorf("no job for %s", shardID)
	}
	if j.Status() == models.JobRunning {
		return nil
	}
	if err := j.SetRunning(); err != nil {
		return err
	}
	slog.Info("job running", "shard", shardID, "handle", j.Handle)
	return nil
}

// Succeed finishes a job with its result payload.
func (r *Registry) Succeed(shardID string, output []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[shardID]
	if !ok {
		return fmt.Errorf("no job for %s", shardID)
	}
	if err := j.Succeed(output); err != nil {
		return err
	}
	slog.Info("job succeeded", "shard", shardID, "handle", j.Handle, "output_bytes", len(output))
	return nil
}

// Fail finishes a job with the error the service reported.
func (r *Registry) Fail(shardID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[shardID]
	if !ok {
		return fmt.Errorf("no job for %s", shardID)
	}
	if err := j.Fail(reason); err != nil {
		return err
	}
	slog.Error("job failed", "shard", shardID, "handle", j.Handle, "reason", reason)
	return nil
}

// Expire finishes a job that outlived its wait budget.
func (r *Registry) Expire(shardID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[shardID]
	if !ok {
		return fmt.Errorf("no job for %s", shardID)
	}
	if err := j.Expire(reason); err != nil {
		return err
	}
	slog.Warn("job expired", "shard", shardID, "handle", j.Handle, "reason", reason)
	return nil
}
