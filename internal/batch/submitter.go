package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"etikett/internal/metrics"
	"etikett/internal/models"
)

// Submitter hands payloads to the service with bounded retries. Transient
// transport errors back off exponentially; fatal ones stop immediately.
type Submitter struct {
	svc        Service
	maxRetries int
	retryDelay time.Duration
	collector  *metrics.Collector
}

// NewSubmitter creates a submitter that attempts each shard at most
// 1+maxRetries times, doubling retryDelay between attempts.
func NewSubmitter(svc Service, maxRetries int, retryDelay time.Duration, collector *metrics.Collector) *Submitter {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Submitter{svc: svc, maxRetries: maxRetries, retryDelay: retryDelay, collector: collector}
}

// Submit sends one shard's payload and registers the resulting job. A
// shard whose content hash is already registered is returned as-is:
// re-running a submission never creates a second job for the same content.
// After the retry budget is spent, the job is registered failed locally
// and a SubmissionError surfaces to the caller; other shards are
// unaffected. Cancellation mid-submission registers nothing, leaving the
// shard submittable on resume.
func (s *Submitter) Submit(ctx context.Context, reg *Registry, sh models.Shard, body []byte) (models.Job, error) {
	if job, ok := reg.Lookup(sh.ContentHash); ok {
		slog.Info("shard already submitted", "shard", sh.ID, "handle", job.Handle, "status", job.Status())
		return job, nil
	}

	var lastErr error
	delay := s.retryDelay
	attempts := 0
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("submission retry", "shard", sh.ID, "attempt", attempt, "delay", delay, "error", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return models.Job{}, ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		attempts++

		start := time.Now()
		handle, err := s.svc.Submit(ctx, sh.ID, body)
		s.collector.RecordTiming(metrics.OpSubmit, time.Since(start))
		if err == nil {
			job := models.NewJob(handle, sh, time.Now())
			if err := reg.Add(job); err != nil {
				return models.Job{}, err
			}
			slog.Info("job submitted", "shard", sh.ID, "handle", handle, "records", len(sh.Records), "payload_bytes", len(body))
			return job, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return models.Job{}, ctx.Err()
		}
		if errors.Is(err, ErrFatal) {
			slog.Error("submission rejected", "shard", sh.ID, "error", err)
			break
		}
	}

	job := models.NewFailedJob(sh, lastErr.Error(), time.Now())
	if err := reg.Add(job); err != nil {
		return models.Job{}, err
	}
	slog.Error("submission abandoned", "shard", sh.ID, "attempts", attempts, "error", lastErr)
	return job, &SubmissionError{ShardID: sh.ID, Attempts: attempts, Err: lastErr}
}
