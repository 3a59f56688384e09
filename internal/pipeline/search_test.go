package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/strategy"
)

func newTestSearcher(reg *strategy.Registry) *Searcher {
	cfg := testConfig()
	return NewSearcher(reg, cfg.Match, cfg.Orchestrator)
}

func TestSearcherCollectsAllStrategies(t *testing.T) {
	reg := registryOf(
		fixedHits(strategy.NameExactKey, model.StrategyCandidate{PartKey: "A", RawScore: 1.0}),
		fixedHits(strategy.NameVector, model.StrategyCandidate{PartKey: "B", RawScore: 0.7}),
	)
	s := newTestSearcher(reg)

	results, err := s.Run(context.Background(), goodItem("li-1"), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, strategy.NameExactKey, results[0].Strategy)
	assert.Equal(t, strategy.NameVector, results[1].Strategy)
}

func TestSearcherSurvivesPanickingStrategy(t *testing.T) {
	boom := &stubStrategy{
		name: strategy.NameLexical,
		fn: func(context.Context, strategy.Query) (*model.StrategyResult, error) {
			panic("index out of range")
		},
	}
	reg := registryOf(
		boom,
		fixedHits(strategy.NameExactKey, model.StrategyCandidate{PartKey: "A", RawScore: 1.0}),
	)
	s := newTestSearcher(reg)

	results, err := s.Run(context.Background(), goodItem("li-1"), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, strategy.NameExactKey, results[0].Strategy)
}

func TestSearcherDropsTimedOutStrategy(t *testing.T) {
	slow := &stubStrategy{
		name: strategy.NameVector,
		fn: func(ctx context.Context, _ strategy.Query) (*model.StrategyResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	reg := registryOf(
		slow,
		fixedHits(strategy.NameExactKey, model.StrategyCandidate{PartKey: "A", RawScore: 1.0}),
	)
	cfg := testConfig()
	cfg.Orchestrator.StrategyTimeoutSecs = 1
	s := NewSearcher(reg, cfg.Match, cfg.Orchestrator)

	results, err := s.Run(context.Background(), goodItem("li-1"), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, strategy.NameExactKey, results[0].Strategy)
}

func TestSearcherAppliesRetryAdjustments(t *testing.T) {
	var sawQuery strategy.Query
	st := &stubStrategy{
		name: strategy.NameAttribute,
		fn: func(_ context.Context, q strategy.Query) (*model.StrategyResult, error) {
			sawQuery = q
			return &model.StrategyResult{Strategy: strategy.NameAttribute, LineItemID: q.Item.ID}, nil
		},
	}
	s := newTestSearcher(registryOf(st))

	_, err := s.Run(context.Background(), goodItem("li-1"), &model.RetryDecision{
		Category: model.FailureSearchNoResults,
		Strategy: model.RetryBroadenSearch,
	})
	require.NoError(t, err)
	assert.True(t, sawQuery.Broaden)
	assert.InDelta(t, 2.0, sawQuery.BroadenFactor, 1e-9)
	assert.False(t, sawQuery.AlternateTerms)

	_, err = s.Run(context.Background(), goodItem("li-1"), &model.RetryDecision{
		Category: model.FailureSearchLowQuality,
		Strategy: model.RetryAlternateTerms,
	})
	require.NoError(t, err)
	assert.True(t, sawQuery.AlternateTerms)
	assert.False(t, sawQuery.Broaden)
}

func TestSearcherPropagatesCancelledContext(t *testing.T) {
	block := &stubStrategy{
		name: strategy.NameVector,
		fn: func(ctx context.Context, _ strategy.Query) (*model.StrategyResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := newTestSearcher(registryOf(block))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, goodItem("li-1"), nil)
	assert.Error(t, err)
}
