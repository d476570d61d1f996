package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "etl-catalog/internal/db"
	"etl-catalog/internal/domain"
)

const stepGHO = "data://garden/who/2024-01-01/gho"

// setupRunRepo returns a repo whose clock advances one second per call.
func setupRunRepo(t *testing.T) *RunRepo {
	t.Helper()
	repo := NewRunRepo(internaldb.OpenTestLedger(t))
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return repo
}

func strPtr(s string) *string { return &s }

func TestRun_CreateGetFinish(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	run, err := repo.CreateRun(ctx, &domain.Run{Selector: "garden/", Force: true})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())
	assert.Nil(t, run.FinishedAt)

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	require.NoError(t, repo.FinishRun(ctx, run.ID, domain.RunStatusFailed, strPtr("step x failed")))
	got, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "step x failed", *got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.After(got.StartedAt))
	assert.True(t, got.Force)
}

func TestRun_NotFound(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()
	var nf *domain.NotFoundError

	_, err := repo.GetRun(ctx, "missing")
	require.ErrorAs(t, err, &nf)

	err = repo.FinishRun(ctx, "missing", domain.RunStatusSuccess, nil)
	require.ErrorAs(t, err, &nf)

	_, err = repo.RecordStep(ctx, &domain.StepRun{RunID: "missing", StepURI: stepGHO, Status: domain.StepStatusSaved})
	require.ErrorAs(t, err, &nf)

	_, err = repo.LastSaved(ctx, stepGHO)
	require.ErrorAs(t, err, &nf)
}

func TestRun_DuplicateID(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	_, err := repo.CreateRun(ctx, &domain.Run{ID: "r1"})
	require.NoError(t, err)
	_, err = repo.CreateRun(ctx, &domain.Run{ID: "r1"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestRun_ListRunsNewestFirst(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := repo.CreateRun(ctx, &domain.Run{})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)

	runs, err = repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRun_Steps(t *testing.T) {
	repo := setupRunRepo(t)
	ctx := context.Background()

	first, err := repo.CreateRun(ctx, &domain.Run{})
	require.NoError(t, err)
	second, err := repo.CreateRun(ctx, &domain.Run{})
	require.NoError(t, err)

	record := func(runID, uri string, tier int, status, checksum string) {
		t.Helper()
		_, err := repo.RecordStep(ctx, &domain.StepRun{
			RunID: runID, StepURI: uri, Tier: tier, Status: status, Checksum: checksum, DurationMs: 12,
		})
		require.NoError(t, err)
	}
	record(first.ID, "data://meadow/who/2024-01-01/gho", 0, domain.StepStatusSaved, "aaa")
	record(first.ID, stepGHO, 1, domain.StepStatusSaved, "bbb")
	record(second.ID, stepGHO, 1, domain.StepStatusFailed, "ccc")
	record(second.ID, "data://meadow/who/2024-01-01/gho", 0, domain.StepStatusUpToDate, "aaa")

	steps, err := repo.ListStepsByRun(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 0, steps[0].Tier)
	assert.Equal(t, domain.StepStatusUpToDate, steps[0].Status)
	assert.Equal(t, domain.StepStatusFailed, steps[1].Status)
	assert.Equal(t, int64(12), steps[1].DurationMs)

	// A later failure does not hide the last successful save.
	last, err := repo.LastSaved(ctx, stepGHO)
	require.NoError(t, err)
	assert.Equal(t, first.ID, last.RunID)
	assert.Equal(t, "bbb", last.Checksum)

	empty, err := repo.ListStepsByRun(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
