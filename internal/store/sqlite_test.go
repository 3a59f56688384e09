package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/pipeline"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "partmatch.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder() model.Order {
	return model.Order{
		ID:           "ord-1001",
		CustomerName: "Acme Fabrication",
		LineItems: []model.LineItemRequest{
			{ID: "li-1", RawText: "4140 round bar"},
		},
	}
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, testOrder())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "ord-1001", run.OrderID)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusMatching))

	result := &model.RunResult{
		ItemsTotal:   3,
		ItemsMatched: 2,
		AvgCombined:  0.84,
		DurationMS:   1200,
	}
	require.NoError(t, s.UpdateRunResult(ctx, run.ID, result))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.ItemsTotal)
	assert.InDelta(t, 0.84, got.Result.AvgCombined, 1e-9)
}

func TestSQLiteRunNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "nope")
	assert.Error(t, err)
	assert.Error(t, s.UpdateRunStatus(ctx, "nope", model.RunStatusFailed))
}

func TestSQLiteListRunsFiltering(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.CreateRun(ctx, testOrder())
	require.NoError(t, err)
	other := testOrder()
	other.ID = "ord-2002"
	_, err = s.CreateRun(ctx, other)
	require.NoError(t, err)

	require.NoError(t, s.UpdateRunStatus(ctx, first.ID, model.RunStatusComplete))

	complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, first.ID, complete[0].ID)

	byOrder, err := s.ListRuns(ctx, RunFilter{OrderID: "ord-2002"})
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.Equal(t, "ord-2002", byOrder[0].OrderID)

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteReviewQueue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, testOrder())
	require.NoError(t, err)

	records := []model.ManualReviewRecord{
		{
			LineItemID: "li-1",
			Reason:     "search_no_results",
			History: []model.AttemptRecord{
				{Attempt: 1, StartedAt: time.Now().UTC()},
			},
			CreatedAt: time.Now().UTC(),
		},
		{LineItemID: "li-2", Reason: "timeout", CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.EnqueueReviews(ctx, run.ID, records))

	pending, err := s.ListReviews(ctx, ReviewFilter{RunID: run.ID, Status: ReviewPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "li-1", pending[0].Record.LineItemID)
	assert.Equal(t, "search_no_results", pending[0].Record.Reason)
	assert.Len(t, pending[0].Record.History, 1)

	require.NoError(t, s.ResolveReview(ctx, pending[0].ID, "matched manually to RB-4140-100"))

	stillPending, err := s.ListReviews(ctx, ReviewFilter{RunID: run.ID, Status: ReviewPending})
	require.NoError(t, err)
	assert.Len(t, stillPending, 1)

	resolved, err := s.ListReviews(ctx, ReviewFilter{RunID: run.ID, Status: ReviewResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "matched manually to RB-4140-100", resolved[0].Resolution)
	assert.NotNil(t, resolved[0].ResolvedAt)

	// Resolving twice is a not-found.
	assert.Error(t, s.ResolveReview(ctx, pending[0].ID, "again"))
}

func TestSQLiteRetryStatsRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rates := pipeline.NewSuccessRates()
	rates.Record(model.FailureSearchNoResults, model.RetryBroadenSearch, true)
	rates.Record(model.FailureSearchNoResults, model.RetryBroadenSearch, false)

	require.NoError(t, s.SaveRetryStats(ctx, rates.Export()))

	snaps, err := s.LoadRetryStats(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snaps)

	restored := pipeline.NewSuccessRates()
	restored.Import(snaps)
	assert.InDelta(t,
		rates.Probability(model.FailureSearchNoResults, model.RetryBroadenSearch),
		restored.Probability(model.FailureSearchNoResults, model.RetryBroadenSearch),
		1e-9)

	// Saving again overwrites rather than duplicating.
	require.NoError(t, s.SaveRetryStats(ctx, rates.Export()))
	again, err := s.LoadRetryStats(ctx)
	require.NoError(t, err)
	assert.Len(t, again, len(snaps))
}
