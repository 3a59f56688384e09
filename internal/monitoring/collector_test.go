package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/store"
)

func seededStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCollectorAggregatesRunResults(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	run1, err := s.CreateRun(ctx, model.Order{ID: "ord-1"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunResult(ctx, run1.ID, &model.RunResult{
		ItemsTotal: 10, ItemsMatched: 8, ItemsWarned: 2, ItemsEscalated: 2, AvgCombined: 0.82,
	}))

	run2, err := s.CreateRun(ctx, model.Order{ID: "ord-2"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunStatus(ctx, run2.ID, model.RunStatusFailed))

	require.NoError(t, s.EnqueueReviews(ctx, run1.ID, []model.ManualReviewRecord{
		{LineItemID: "li-1", Reason: "search_no_results", CreatedAt: time.Now().UTC()},
		{LineItemID: "li-2", Reason: "timeout", CreatedAt: time.Now().UTC()},
	}))

	snap, err := NewCollector(s).Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.InDelta(t, 0.5, snap.RunFailRate, 1e-9)

	assert.Equal(t, 10, snap.ItemsTotal)
	assert.Equal(t, 8, snap.ItemsMatched)
	assert.InDelta(t, 0.8, snap.MatchRate, 1e-9)
	assert.InDelta(t, 0.2, snap.EscalationRate, 1e-9)
	assert.InDelta(t, 0.25, snap.WarningRate, 1e-9)
	assert.InDelta(t, 0.82, snap.AvgCombined, 1e-9)

	assert.Equal(t, 2, snap.ReviewBacklog)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollectorEmptyStore(t *testing.T) {
	s := seededStore(t)

	snap, err := NewCollector(s).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.EscalationRate)
	assert.Zero(t, snap.ReviewBacklog)
}
