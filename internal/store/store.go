// Package store persists runs and their jobs in a local SQLite database so
// an interrupted run can be resumed after the process died.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"etikett/internal/models"
)

// ErrNotFound indicates the requested run does not exist.
// Check with errors.Is().
var ErrNotFound = errors.New("run not found")

// RunState tracks a run's lifecycle in the store.
type RunState string

const (
	// RunActive marks a run that has not finished; it can be resumed.
	RunActive RunState = "active"
	// RunCompleted marks a run whose results file was written.
	RunCompleted RunState = "completed"
	// RunFailed marks a run that stopped with an unrecoverable error.
	RunFailed RunState = "failed"
)

// Run is one submission of a catalog, with everything needed to rebuild its
// payloads byte for byte on resume.
type Run struct {
	ID         string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	State      RunState
	InputPath  string
	OutputPath string
	Backend    string

	RecordCount  int
	ShardSize    int
	RequestSize  int
	PayloadLimit int

	Model               string
	Temperature         float64
	MaxCompletionTokens int
	SystemPrompt        string
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
  id                    TEXT PRIMARY KEY,
  created_at            INTEGER NOT NULL,
  updated_at            INTEGER NOT NULL,
  state                 TEXT NOT NULL,
  input_path            TEXT NOT NULL,
  output_path           TEXT NOT NULL,
  backend               TEXT NOT NULL,
  record_count          INTEGER NOT NULL,
  shard_size            INTEGER NOT NULL,
  request_size          INTEGER NOT NULL,
  payload_limit         INTEGER NOT NULL,
  model                 TEXT NOT NULL,
  temperature           REAL NOT NULL,
  max_completion_tokens INTEGER NOT NULL,
  system_prompt         TEXT NOT NULL
);

-- The input records in submission order, so resume rebuilds identical
-- shards without the original file.
CREATE TABLE IF NOT EXISTS run_records (
  run_id   TEXT NOT NULL,
  position INTEGER NOT NULL,
  sku      TEXT NOT NULL,
  title    TEXT NOT NULL,
  PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS jobs (
  run_id       TEXT NOT NULL,
  shard_id     TEXT NOT NULL,
  shard_index  INTEGER NOT NULL,
  content_hash TEXT NOT NULL,
  handle       TEXT NOT NULL,
  status       TEXT NOT NULL,
  reason       TEXT NOT NULL DEFAULT '',
  output       BLOB,
  submitted_at INTEGER NOT NULL,
  updated_at   INTEGER NOT NULL,
  PRIMARY KEY (run_id, shard_id)
);
`

// Store wraps the SQLite database holding run state.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateRun inserts a run and its input records in one transaction.
func (s *Store) CreateRun(ctx context.Context, run Run, records []models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, updated_at, state, input_path, output_path, backend,
		                   record_count, shard_size, request_size, payload_limit,
		                   model, temperature, max_completion_tokens, system_prompt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, now, now, string(RunActive), run.InputPath, run.OutputPath, run.Backend,
		len(records), run.ShardSize, run.RequestSize, run.PayloadLimit,
		run.Model, run.Temperature, run.MaxCompletionTokens, run.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_records (run_id, position, sku, title) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, run.ID, i, rec.ID, rec.Text); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `id, created_at, updated_at, state, input_path, output_path, backend,
       record_count, shard_size, request_size, payload_limit,
       model, temperature, max_completion_tokens, system_prompt`

// GetRun loads one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SetRunState moves a run to the given state.
func (s *Store) SetRunState(ctx context.Context, id string, state RunState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRecords returns a run's input records in submission order.
func (s *Store) GetRecords(ctx context.Context, runID string) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sku, title FROM run_records WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.Text); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveJob upserts one job's current state.
func (s *Store) SaveJob(ctx context.Context, runID string, job models.Job) error {
	output, _ := job.Output()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (run_id, shard_id, shard_index, content_hash, handle,
		                   status, reason, output, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, shard_id) DO UPDATE SET
		   handle = excluded.handle,
		   status = excluded.status,
		   reason = excluded.reason,
		   output = excluded.output,
		   submitted_at = excluded.submitted_at,
		   updated_at = excluded.updated_at`,
		runID, job.ShardID, job.ShardIndex, job.ContentHash, job.Handle,
		string(job.Status()), job.Reason(), output,
		job.SubmittedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ShardID, err)
	}
	return nil
}

// SaveJobs upserts a batch of jobs in one transaction.
func (s *Store) SaveJobs(ctx context.Context, runID string, jobs []models.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO jobs (run_id, shard_id, shard_index, content_hash, handle,
		                   status, reason, output, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, shard_id) DO UPDATE SET
		   handle = excluded.handle,
		   status = excluded.status,
		   reason = excluded.reason,
		   output = excluded.output,
		   submitted_at = excluded.submitted_at,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare job upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, job := range jobs {
		output, _ := job.Output()
		_, err := stmt.ExecContext(ctx,
			runID, job.ShardID, job.ShardIndex, job.ContentHash, job.Handle,
			string(job.Status()), job.Reason(), output,
			job.SubmittedAt.UnixMilli(), now,
		)
		if err != nil {
			return fmt.Errorf("save job %s: %w", job.ShardID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit jobs: %w", err)
	}
	return nil
}

// GetJobs returns a run's jobs ordered by shard index.
func (s *Store) GetJobs(ctx context.Context, runID string) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT shard_id, shard_index, content_hash, handle, status, reason, output, submitted_at
		 FROM jobs WHERE run_id = ? ORDER BY shard_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var (
			shardID, contentHash, handle, status, reason string
			shardIndex                                   int
			output                                       []byte
			submittedMs                                  int64
		)
		if err := rows.Scan(&shardID, &shardIndex, &contentHash, &handle, &status, &reason, &output, &submittedMs); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := models.RestoreJob(handle, shardID, shardIndex, contentHash,
			time.UnixMilli(submittedMs), models.JobStatus(status), output, reason)
		if err != nil {
			return nil, fmt.Errorf("restore job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// rowScanner lets scanRun work on both QueryRow and Query results.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                  Run
		createdMs, updatedMs int64
		state                string
	)
	err := row.Scan(&run.ID, &createdMs, &updatedMs, &state, &run.InputPath, &run.OutputPath, &run.Backend,
		&run.RecordCount, &run.ShardSize, &run.RequestSize, &run.PayloadLimit,
		&run.Model, &run.Temperature, &run.MaxCompletionTokens, &run.SystemPrompt)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = time.UnixMilli(createdMs)
	run.UpdatedAt = time.UnixMilli(updatedMs)
	run.State = RunState(state)
	return run, nil
}
