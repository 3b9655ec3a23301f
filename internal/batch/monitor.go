package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"etikett/internal/metrics"
	"etikett/internal/models"
)

// MonitorConfig bounds the polling loop.
type MonitorConfig struct {
	// PollInterval is the initial delay between polls of one job.
	PollInterval time.Duration
	// MaxPollInterval caps the backoff growth; zero leaves it uncapped.
	MaxPollInterval time.Duration
	// BackoffFactor multiplies the interval after every poll.
	BackoffFactor float64
	// MaxWait is the per-job budget. A job still unresolved when it runs
	// out is expired locally, not failed.
	MaxWait time.Duration
}

// Monitor drives every outstanding job to a terminal state. Each job gets
// its own goroutine and timer, so one slow service round trip never holds
// up the others.
type Monitor struct {
	svc       Service
	cfg       MonitorConfig
	collector *metrics.Collector
}

// NewMonitor creates a monitor, normalizing degenerate configuration that
// would otherwise poll hot or expire everything instantly.
func NewMonitor(svc Service, cfg MonitorConfig, collector *metrics.Collector) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 24 * time.Hour
	}
	return &Monitor{svc: svc, cfg: cfg, collector: collector}
}

// Wait polls until every outstanding job in the registry resolves, each
// job's wait budget runs out, or ctx is canceled. It always returns the
// registry's current snapshot; on cancellation the error is ctx's and the
// snapshot reflects whatever state each job had reached.
func (m *Monitor) Wait(ctx context.Context, reg *Registry) ([]models.Job, error) {
	outstanding := reg.Outstanding()
	slog.Info("monitoring jobs",
		"outstanding", len(outstanding),
		"poll_interval", m.cfg.PollInterval,
		"max_wait", m.cfg.MaxWait)

	var wg sync.WaitGroup
	for _, job := range outstanding {
		wg.Add(1)
		go func(job models.Job) {
			defer wg.Done()
			m.watch(ctx, reg, job)
		}(job)
	}
	wg.Wait()

	return reg.Snapshot(), ctx.Err()
}

// watch polls one job until it resolves. The first poll happens
// immediately so resumed jobs that finished while the process was away
// resolve without waiting a full interval.
func (m *Monitor) watch(ctx context.Context, reg *Registry, job models.Job) {
	deadline := time.Now().Add(m.cfg.MaxWait)
	interval := m.cfg.PollInterval

	for {
		start := time.Now()
		res, err := m.svc.Poll(ctx, job.Handle)
		m.collector.RecordTiming(metrics.OpPoll, time.Since(start))

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrFatal) {
				m.apply(reg.Fail(job.ShardID, err.Error()))
				return
			}
			// Transient poll failures just wait for the next tick.
			m.collector.AddCount(metrics.CntPollErrors, 1)
			slog.Warn("poll failed", "shard", job.ShardID, "handle", job.Handle, "error", err)
		} else {
			if applyErr := ApplyPoll(reg, job.ShardID, res); applyErr != nil {
				m.apply(applyErr)
			}
			if res.Status.Terminal() {
				return
			}
		}

		if !time.Now().Before(deadline) {
			m.apply(reg.Expire(job.ShardID, fmt.Sprintf("no terminal state within %s", m.cfg.MaxWait)))
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * m.cfg.BackoffFactor)
		if m.cfg.MaxPollInterval > 0 && interval > m.cfg.MaxPollInterval {
			interval = m.cfg.MaxPollInterval
		}
	}
}

// apply logs transition errors. They indicate a bookkeeping bug, not a
// runtime condition worth killing the watcher over.
func (m *Monitor) apply(err error) {
	if err != nil {
		slog.Error("job transition rejected", "error", err)
	}
}
