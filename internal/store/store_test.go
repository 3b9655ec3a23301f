package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etikett/internal/models"
	"etikett/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "etikett.db"))
	require.NoError(t, err, "should open database")
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string) store.Run {
	return store.Run{
		ID:                  id,
		InputPath:           "catalog.csv",
		OutputPath:          "catalog_classified.csv",
		Backend:             "batch",
		ShardSize:           500,
		RequestSize:         44,
		PayloadLimit:        200 * 1024 * 1024,
		Model:               "gpt-4o-mini",
		Temperature:         0.2,
		MaxCompletionTokens: 16000,
		SystemPrompt:        "Du bist ein Experte.",
	}
}

func testShard(index int) models.Shard {
	return models.Shard{
		Index:       index,
		ID:          "shard_" + string(rune('0'+index)),
		ContentHash: "hash",
	}
}

func TestCreateAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	records := []models.Record{
		{ID: "A-1", Text: "Akkuschrauber"},
		{ID: "A-2", Text: "Holzdübel"},
	}
	require.NoError(t, s.CreateRun(ctx, testRun("run1"), records))

	run, err := s.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, store.RunActive, run.State)
	assert.Equal(t, "catalog.csv", run.InputPath)
	assert.Equal(t, "batch", run.Backend)
	assert.Equal(t, 2, run.RecordCount)
	assert.Equal(t, 500, run.ShardSize)
	assert.Equal(t, "gpt-4o-mini", run.Model)
	assert.InDelta(t, 0.2, run.Temperature, 1e-9)
	assert.Equal(t, 16000, run.MaxCompletionTokens)
	assert.Equal(t, "Du bist ein Experte.", run.SystemPrompt)
	assert.WithinDuration(t, time.Now(), run.CreatedAt, 5*time.Second)

	got, err := s.GetRecords(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestGetRunNotFound(t *testing.T) {
	s := testStore(t)

	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetRunState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run1"), nil))
	require.NoError(t, s.SetRunState(ctx, "run1", store.RunCompleted))

	run, err := s.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.State)

	assert.ErrorIs(t, s.SetRunState(ctx, "nope", store.RunFailed), store.ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("older"), nil))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.CreateRun(ctx, testRun("newer"), nil))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].ID)
	assert.Equal(t, "older", runs[1].ID)
}

func TestJobRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run1"), nil))

	submitted := time.Now()
	job := models.NewJob("batch_abc", testShard(0), submitted)
	require.NoError(t, s.SaveJob(ctx, "run1", job))

	jobs, err := s.GetJobs(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "batch_abc", jobs[0].Handle)
	assert.Equal(t, models.JobPending, jobs[0].Status())
	assert.Equal(t, submitted.UnixMilli(), jobs[0].SubmittedAt.UnixMilli())

	// The same shard saved again overwrites the earlier row.
	require.NoError(t, job.SetRunning())
	require.NoError(t, job.Succeed([]byte(`{"custom_id":"shard_0_req_0"}`)))
	require.NoError(t, s.SaveJob(ctx, "run1", job))

	jobs, err = s.GetJobs(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobSucceeded, jobs[0].Status())
	output, ok := jobs[0].Output()
	require.True(t, ok)
	assert.Equal(t, `{"custom_id":"shard_0_req_0"}`, string(output))
}

func TestSaveJobsBatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, testRun("run1"), nil))

	failed := models.NewFailedJob(testShard(1), "submission abandoned", time.Now())
	expired := models.NewJob("batch_x", testShard(2), time.Now())
	require.NoError(t, expired.Expire("no terminal state within 25h"))
	pending := models.NewJob("batch_y", testShard(0), time.Now())

	require.NoError(t, s.SaveJobs(ctx, "run1", []models.Job{failed, expired, pending}))

	jobs, err := s.GetJobs(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	// Ordered by shard index, not save order.
	assert.Equal(t, models.JobPending, jobs[0].Status())
	assert.Equal(t, models.JobFailed, jobs[1].Status())
	assert.Equal(t, "submission abandoned", jobs[1].Reason())
	assert.Empty(t, jobs[1].Handle)
	assert.Equal(t, models.JobExpired, jobs[2].Status())

	other, err := s.GetJobs(ctx, "run2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
