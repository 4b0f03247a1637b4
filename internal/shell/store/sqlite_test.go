package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestRun(t *testing.T, store Store, target string) *domain.Run {
	t.Helper()
	run, err := domain.NewRun(target, domain.TriggerPush, "refs/heads/main")
	require.NoError(t, err)
	run.Commit = "4f2d9c1a8b7e6d5c4b3a2f1e0d9c8b7a6f5e4d3c"

	err = store.CreateRun(context.Background(), run)
	require.NoError(t, err)
	return run
}

func finishRun(t *testing.T, store Store, run *domain.Run, status domain.RunStatus, finishedAt time.Time) {
	t.Helper()
	require.NoError(t, run.Transition(domain.RunRunning))
	require.NoError(t, run.Transition(status))
	run.FinishedAt = &finishedAt
	require.NoError(t, store.UpdateRun(context.Background(), run))
}

// =============================================================================
// Run CRUD Tests
// =============================================================================

func TestCreateRun_Success(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := domain.NewRun("shop-api", domain.TriggerPush, "refs/heads/main")
	require.NoError(t, err)

	err = store.CreateRun(ctx, run)
	require.NoError(t, err)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "shop-api", got.Target)
	assert.Equal(t, domain.TriggerPush, got.Trigger)
	assert.Equal(t, domain.RunPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
}

func TestCreateRun_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, store, "shop-api")

	err := store.CreateRun(ctx, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRun_StepsRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := createTestRun(t, store, "shop-api")
	require.NoError(t, run.Transition(domain.RunRunning))

	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	run.AppendStep(domain.StepResult{
		Name:       "pull main",
		Command:    "git -C '/srv/shop-api' pull origin 'main'",
		Status:     domain.StepOK,
		Output:     "Already up to date.\n",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	})
	run.AppendStep(domain.StepResult{
		Name:     "compose down",
		Command:  "cd '/srv/shop-api' && docker compose -f 'docker-compose.yml' down",
		Status:   domain.StepWarned,
		ExitCode: 1,
		Output:   "no configuration file provided\n",
	})

	require.NoError(t, store.UpdateRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, domain.StepOK, got.Steps[0].Status)
	assert.Equal(t, "Already up to date.\n", got.Steps[0].Output)
	assert.Equal(t, domain.StepWarned, got.Steps[1].Status)
	assert.Equal(t, 1, got.Steps[1].ExitCode)
	assert.Equal(t, 2*time.Second, got.Steps[0].Duration())
	require.NotNil(t, got.StartedAt)
}

func TestUpdateRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	run, err := domain.NewRun("shop-api", domain.TriggerManual, "")
	require.NoError(t, err)

	err = store.UpdateRun(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Listing Tests
// =============================================================================

func TestListRuns_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := createTestRun(t, store, "shop-api")
	second := createTestRun(t, store, "shop-api")
	third := createTestRun(t, store, "billing")

	runs, err := store.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 3)

	// Same-second inserts fall back to insertion order, newest first
	assert.Equal(t, third.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)
	assert.Equal(t, first.ID, runs[2].ID)
}

func TestListRunsByTarget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "shop-api")
	createTestRun(t, store, "billing")
	createTestRun(t, store, "shop-api")

	runs, err := store.ListRunsByTarget(ctx, "shop-api", DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, "shop-api", run.Target)
	}
}

func TestListRuns_Pagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createTestRun(t, store, "shop-api")
	}

	page, err := store.ListRuns(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestListRuns_StatusFilter(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "shop-api")
	failed := createTestRun(t, store, "shop-api")
	finishRun(t, store, failed, domain.RunFailed, time.Now().UTC())
	succeeded := createTestRun(t, store, "billing")
	finishRun(t, store, succeeded, domain.RunSucceeded, time.Now().UTC())

	runs, err := store.ListRuns(ctx, ListOptions{Limit: 10, Status: domain.RunFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, failed.ID, runs[0].ID)

	// Target and status filters compose
	runs, err = store.ListRunsByTarget(ctx, "shop-api", ListOptions{Limit: 10, Status: domain.RunSucceeded})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLatestRunByTarget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "shop-api")
	latest := createTestRun(t, store, "shop-api")

	got, err := store.LatestRunByTarget(ctx, "shop-api")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, got.ID)
}

func TestLatestRunByTarget_NoRuns(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.LatestRunByTarget(context.Background(), "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Startup Recovery Tests
// =============================================================================

func TestFailAbandonedRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	pending := createTestRun(t, store, "shop-api")

	running := createTestRun(t, store, "billing")
	require.NoError(t, running.Transition(domain.RunRunning))
	require.NoError(t, store.UpdateRun(ctx, running))

	done := createTestRun(t, store, "shop-api")
	finishRun(t, store, done, domain.RunSucceeded, time.Now().UTC())

	affected, err := store.FailAbandonedRuns(ctx, "daemon restarted mid-run")
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	for _, id := range []string{pending.ID, running.ID} {
		got, err := store.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunFailed, got.Status)
		assert.Equal(t, "daemon restarted mid-run", got.ErrorMessage)
		assert.NotNil(t, got.FinishedAt)
	}

	got, err := store.GetRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

// =============================================================================
// Pruning Tests
// =============================================================================

func TestPruneRuns_DeletesOldTerminalRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	recent := time.Now().UTC()

	stale := createTestRun(t, store, "shop-api")
	finishRun(t, store, stale, domain.RunFailed, old)

	fresh := createTestRun(t, store, "shop-api")
	finishRun(t, store, fresh, domain.RunSucceeded, recent)

	deleted, err := store.PruneRuns(ctx, time.Now().UTC().Add(-7*24*time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetRun(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetRun(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestPruneRuns_KeepsRecentPerTarget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-30 * 24 * time.Hour)

	// Both runs are past the cutoff, but the newest per target survives
	first := createTestRun(t, store, "shop-api")
	finishRun(t, store, first, domain.RunSucceeded, old)
	second := createTestRun(t, store, "shop-api")
	finishRun(t, store, second, domain.RunSucceeded, old)

	deleted, err := store.PruneRuns(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetRun(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetRun(ctx, second.ID)
	assert.NoError(t, err)
}

func TestPruneRuns_SkipsActiveRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, store, "shop-api") // stays pending

	deleted, err := store.PruneRuns(ctx, time.Now().UTC().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

// =============================================================================
// Transaction Tests
// =============================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := domain.NewRun("shop-api", domain.TriggerManual, "")
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx Store) error {
		return tx.CreateRun(ctx, run)
	})
	require.NoError(t, err)

	_, err = store.GetRun(ctx, run.ID)
	assert.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run, err := domain.NewRun("shop-api", domain.TriggerManual, "")
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateRun(ctx, run); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = store.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestListOptions_Normalize(t *testing.T) {
	opts := ListOptions{Limit: -5, Offset: -1}.Normalize()
	assert.Equal(t, 100, opts.Limit)
	assert.Zero(t, opts.Offset)

	opts = ListOptions{Limit: 5000}.Normalize()
	assert.Equal(t, 1000, opts.Limit)
}
