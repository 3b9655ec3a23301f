// Package service orchestrates classification runs from catalog to results
// file.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"etikett/internal/batch"
	"etikett/internal/config"
	"etikett/internal/dataset"
	"etikett/internal/metrics"
	"etikett/internal/models"
	"etikett/internal/payload"
	"etikett/internal/prompt"
	"etikett/internal/reconcile"
	"etikett/internal/shard"
	"etikett/internal/store"
)

// Phase names the pipeline stage a run is currently in.
type Phase string

const (
	PhaseLoading     Phase = "loading"
	PhaseChunking    Phase = "chunking"
	PhaseBuilding    Phase = "building"
	PhaseSubmitting  Phase = "submitting"
	PhaseMonitoring  Phase = "monitoring"
	PhaseReconciling Phase = "reconciling"
	PhaseWriting     Phase = "writing"
	PhaseDone        Phase = "done"
)

// Progress is a point-in-time view of a running pipeline, safe to read from
// another goroutine.
type Progress struct {
	RunID   string
	Phase   Phase
	Records int
	Shards  int
	Counts  map[models.JobStatus]int
	Done    bool
	Err     error
}

// Report summarizes a finished run.
type Report struct {
	RunID      string
	Records    int
	Shards     int
	Classified int
	Errors     int
	Missing    int
	OutputPath string
	Duration   time.Duration
}

// Pipeline drives one classification run: load, chunk, build, submit,
// monitor, reconcile, write.
type Pipeline struct {
	cfg       config.Config
	svc       batch.Service
	store     *store.Store
	tmpl      prompt.Template
	collector *metrics.Collector

	mu       sync.RWMutex
	progress Progress
	registry *batch.Registry
}

// NewPipeline creates a pipeline using the given backend service.
func NewPipeline(cfg config.Config, svc batch.Service, st *store.Store, tmpl prompt.Template) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		svc:       svc,
		store:     st,
		tmpl:      tmpl,
		collector: metrics.NewCollector(),
	}
}

// Progress returns the current pipeline state, including live job counts
// while jobs are being monitored.
func (p *Pipeline) Progress() Progress {
	p.mu.RLock()
	prog := p.progress
	reg := p.registry
	p.mu.RUnlock()

	if reg != nil {
		prog.Counts = reg.CountByStatus()
	}
	return prog
}

// Run executes a fresh run over the catalog at inputPath and writes results
// to outputPath. The run is persisted first, so an interrupted run can be
// picked up again with Resume.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*Report, error) {
	report, err := p.run(ctx, inputPath, outputPath)
	p.finish(err)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, inputPath, outputPath string) (*Report, error) {
	start := time.Now()
	runID := uuid.New().String()[:8] // Short ID for convenience

	p.setProgress(func(prog *Progress) {
		prog.RunID = runID
		prog.Phase = PhaseLoading
	})
	slog.Info("run starting", "run_id", runID, "input", inputPath, "backend", p.cfg.Backend)

	records, err := dataset.ReadRecords(inputPath)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("catalog %s holds no usable records", inputPath)
	}
	p.collector.AddCount(metrics.CntRecords, len(records))

	p.setProgress(func(prog *Progress) {
		prog.Phase = PhaseChunking
		prog.Records = len(records)
	})
	shards, err := shard.Split(records, p.cfg.ShardSize)
	if err != nil {
		return nil, err
	}

	p.setProgress(func(prog *Progress) {
		prog.Phase = PhaseBuilding
		prog.Shards = len(shards)
	})
	bodies, mappings, err := p.buildPayloads(shards, p.tmpl, p.cfg.RequestSize, p.cfg.PayloadLimit)
	if err != nil {
		return nil, err
	}

	run := store.Run{
		ID:                  runID,
		InputPath:           inputPath,
		OutputPath:          outputPath,
		Backend:             p.cfg.Backend,
		ShardSize:           p.cfg.ShardSize,
		RequestSize:         p.cfg.RequestSize,
		PayloadLimit:        p.cfg.PayloadLimit,
		Model:               p.tmpl.Model,
		Temperature:         p.tmpl.Temperature,
		MaxCompletionTokens: p.tmpl.MaxCompletionTokens,
		SystemPrompt:        p.tmpl.System,
	}
	if err := p.store.CreateRun(ctx, run, records); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}

	p.mu.Lock()
	p.registry = batch.NewRegistry()
	p.mu.Unlock()

	return p.execute(ctx, runID, start, records, shards, bodies, mappings, outputPath)
}

// Resume picks up a stored run: rebuild the payloads from the persisted
// records and parameters, re-register its jobs and continue where the
// process died.
func (p *Pipeline) Resume(ctx context.Context, runID string) (*Report, error) {
	report, err := p.resume(ctx, runID)
	p.finish(err)
	return report, err
}

func (p *Pipeline) resume(ctx context.Context, runID string) (*Report, error) {
	start := time.Now()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.State == store.RunCompleted {
		return nil, fmt.Errorf("run %s already completed", runID)
	}

	p.setProgress(func(prog *Progress) {
		prog.RunID = runID
		prog.Phase = PhaseLoading
	})
	slog.Info("run resuming", "run_id", runID, "backend", run.Backend, "state", string(run.State))

	records, err := p.store.GetRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("run %s has no stored records", runID)
	}

	p.setProgress(func(prog *Progress) {
		prog.Phase = PhaseChunking
		prog.Records = len(records)
	})
	shards, err := shard.Split(records, run.ShardSize)
	if err != nil {
		return nil, err
	}

	// Rebuild payloads with the run's stored parameters, not the current
	// configuration, so custom ids and content hashes line up with the
	// persisted jobs.
	tmpl := prompt.Template{
		Model:               run.Model,
		Temperature:         run.Temperature,
		MaxCompletionTokens: run.MaxCompletionTokens,
		System:              run.SystemPrompt,
	}
	p.setProgress(func(prog *Progress) {
		prog.Phase = PhaseBuilding
		prog.Shards = len(shards)
	})
	bodies, mappings, err := p.buildPayloads(shards, tmpl, run.RequestSize, run.PayloadLimit)
	if err != nil {
		return nil, err
	}

	jobs, err := p.store.GetJobs(ctx, runID)
	if err != nil {
		return nil, err
	}

	reg := batch.NewRegistry()
	skipped := 0
	for _, job := range jobs {
		// Direct handles die with their process; a non-terminal direct
		// job can only be submitted again.
		if run.Backend == config.BackendDirect && !job.Status().Terminal() {
			skipped++
			continue
		}
		if err := reg.Add(job); err != nil {
			return nil, fmt.Errorf("restore job %s: %w", job.ShardID, err)
		}
	}
	if skipped > 0 {
		slog.Info("dropping unfinished direct jobs for resubmission", "run_id", runID, "count", skipped)
	}

	p.mu.Lock()
	p.registry = reg
	p.mu.Unlock()

	return p.execute(ctx, runID, start, records, shards, bodies, mappings, run.OutputPath)
}

// execute runs the submit, monitor, reconcile and write stages against the
// pipeline's registry. Shards whose content hash is already registered are
// not submitted again.
func (p *Pipeline) execute(ctx context.Context, runID string, start time.Time, records []models.Record, shards []models.Shard, bodies map[string][]byte, mappings map[string]payload.Mapping, outputPath string) (*Report, error) {
	p.mu.RLock()
	reg := p.registry
	p.mu.RUnlock()

	p.setProgress(func(prog *Progress) { prog.Phase = PhaseSubmitting })
	submitter := batch.NewSubmitter(p.svc, p.cfg.MaxRetries, p.cfg.RetryDelay, p.collector)

	abandoned := 0
	for _, sh := range shards {
		_, err := submitter.Submit(ctx, reg, sh, bodies[sh.ID])
		if err != nil {
			var subErr *batch.SubmissionError
			if errors.As(err, &subErr) {
				// The shard is registered as failed; reconciliation
				// reports its records as missing.
				abandoned++
			} else {
				p.persistJobs(runID, reg.Snapshot())
				return nil, err
			}
		}
		if job, ok := reg.Get(sh.ID); ok {
			if err := p.store.SaveJob(ctx, runID, job); err != nil {
				slog.Warn("failed to persist job", "run_id", runID, "shard", sh.ID, "error", err)
			}
		}
	}
	if abandoned > 0 {
		p.collector.AddCount(metrics.CntShardsAbandoned, abandoned)
		slog.Warn("shards abandoned during submission", "run_id", runID, "count", abandoned)
	}

	p.setProgress(func(prog *Progress) { prog.Phase = PhaseMonitoring })
	monitor := batch.NewMonitor(p.svc, batch.MonitorConfig{
		PollInterval:    p.cfg.PollInterval,
		MaxPollInterval: p.cfg.MaxPollInterval,
		BackoffFactor:   p.cfg.BackoffFactor,
		MaxWait:         p.cfg.MaxWait,
	}, p.collector)

	jobs, waitErr := monitor.Wait(ctx, reg)
	p.persistJobs(runID, jobs)
	if waitErr != nil {
		slog.Info("run interrupted, resume later", "run_id", runID)
		return nil, waitErr
	}

	p.setProgress(func(prog *Progress) { prog.Phase = PhaseReconciling })
	recStart := time.Now()
	entries, err := reconcile.Assemble(records, shards, jobs, mappings)
	p.collector.RecordTiming(metrics.OpReconcile, time.Since(recStart))
	if err != nil {
		if stateErr := p.store.SetRunState(context.Background(), runID, store.RunFailed); stateErr != nil {
			slog.Warn("failed to mark run failed", "run_id", runID, "error", stateErr)
		}
		return nil, fmt.Errorf("reconcile run %s: %w", runID, err)
	}

	p.setProgress(func(prog *Progress) { prog.Phase = PhaseWriting })
	if err := dataset.WriteResults(outputPath, entries); err != nil {
		// The jobs are persisted; resuming the still-active run rewrites
		// the file without resubmitting anything.
		return nil, err
	}

	if err := p.store.SetRunState(ctx, runID, store.RunCompleted); err != nil {
		slog.Warn("failed to mark run completed", "run_id", runID, "error", err)
	}

	report := &Report{
		RunID:      runID,
		Records:    len(records),
		Shards:     len(shards),
		OutputPath: outputPath,
		Duration:   time.Since(start),
	}
	for _, e := range entries {
		switch e.Status {
		case models.ResultClassified:
			report.Classified++
		case models.ResultError:
			report.Errors++
		case models.ResultMissing:
			report.Missing++
		}
	}

	p.setProgress(func(prog *Progress) { prog.Phase = PhaseDone })
	p.logMetrics()
	slog.Info("run finished",
		"run_id", runID,
		"classified", report.Classified,
		"errors", report.Errors,
		"missing", report.Missing,
		"duration", report.Duration.Round(time.Second).String(),
	)
	return report, nil
}

// RefreshStatus polls every open job of a stored run once and persists what
// came back. For the direct backend there is nothing to poll, so it returns
// the stored jobs unchanged.
func (p *Pipeline) RefreshStatus(ctx context.Context, runID string) ([]models.Job, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	jobs, err := p.store.GetJobs(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Backend == config.BackendDirect {
		return jobs, nil
	}

	reg := batch.NewRegistry()
	for _, job := range jobs {
		if err := reg.Add(job); err != nil {
			return nil, fmt.Errorf("restore job %s: %w", job.ShardID, err)
		}
	}

	for _, job := range reg.Outstanding() {
		pollStart := time.Now()
		res, err := p.svc.Poll(ctx, job.Handle)
		p.collector.RecordTiming(metrics.OpPoll, time.Since(pollStart))
		if err != nil {
			p.collector.AddCount(metrics.CntPollErrors, 1)
			slog.Warn("status poll failed", "shard", job.ShardID, "error", err)
			continue
		}
		if err := batch.ApplyPoll(reg, job.ShardID, res); err != nil {
			slog.Warn("status update rejected", "shard", job.ShardID, "error", err)
		}
	}

	snapshot := reg.Snapshot()
	if err := p.store.SaveJobs(ctx, runID, snapshot); err != nil {
		return nil, fmt.Errorf("persist refreshed jobs: %w", err)
	}
	return snapshot, nil
}

func (p *Pipeline) buildPayloads(shards []models.Shard, tmpl prompt.Template, requestSize, byteLimit int) (map[string][]byte, map[string]payload.Mapping, error) {
	bodies := make(map[string][]byte, len(shards))
	mappings := make(map[string]payload.Mapping, len(shards))
	cfg := payload.Config{RequestSize: requestSize, ByteLimit: byteLimit}

	for _, sh := range shards {
		buildStart := time.Now()
		pl, err := payload.Build(sh, tmpl, cfg)
		p.collector.RecordTiming(metrics.OpBuild, time.Since(buildStart))
		if err != nil {
			return nil, nil, fmt.Errorf("build payload for %s: %w", sh.ID, err)
		}
		bodies[sh.ID] = pl.Body
		mappings[sh.ID] = pl.Mapping
	}
	return bodies, mappings, nil
}

// persistJobs saves job state on a fresh context, so state survives even
// when the run context was cancelled.
func (p *Pipeline) persistJobs(runID string, jobs []models.Job) {
	if len(jobs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.store.SaveJobs(ctx, runID, jobs); err != nil {
		slog.Warn("failed to persist jobs", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) setProgress(update func(*Progress)) {
	p.mu.Lock()
	update(&p.progress)
	p.mu.Unlock()
}

func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	p.progress.Done = true
	p.progress.Err = err
	p.mu.Unlock()
}

func (p *Pipeline) logMetrics() {
	snap := p.collector.Snapshot()
	args := []any{"uptime_seconds", fmt.Sprintf("%.1f", snap.UptimeSeconds)}
	if snap.Build != nil {
		args = append(args, "builds", snap.Build.Count, "build_avg_ms", snap.Build.AvgTimeMs)
	}
	if snap.Submit != nil {
		args = append(args, "submits", snap.Submit.Count, "submit_avg_ms", snap.Submit.AvgTimeMs)
	}
	if snap.Poll != nil {
		args = append(args, "polls", snap.Poll.Count, "poll_avg_ms", snap.Poll.AvgTimeMs)
	}
	if snap.Reconcile != nil {
		args = append(args, "reconciles", snap.Reconcile.Count, "reconcile_avg_ms", snap.Reconcile.AvgTimeMs)
	}
	for _, counter := range []string{metrics.CntRecords, metrics.CntShardsAbandoned, metrics.CntPollErrors} {
		if n := snap.Counters[counter]; n > 0 {
			args = append(args, counter, n)
		}
	}
	slog.Info("run metrics", args...)
}
