package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/strategy"
)

// Searcher fans one line item out to every registered strategy in
// parallel. Each strategy runs under its own timeout; a slow, failing, or
// panicking strategy costs only its own contribution.
type Searcher struct {
	registry      *strategy.Registry
	timeout       time.Duration
	topK          int
	broadenFactor float64
}

// NewSearcher builds a searcher over the registry.
func NewSearcher(registry *strategy.Registry, mcfg config.MatchConfig, ocfg config.OrchestratorConfig) *Searcher {
	return &Searcher{
		registry:      registry,
		timeout:       time.Duration(ocfg.StrategyTimeoutSecs) * time.Second,
		topK:          mcfg.TopK,
		broadenFactor: mcfg.BroadenFactor,
	}
}

// buildQuery applies the retry decision's adjustments to the base query.
func (s *Searcher) buildQuery(item model.LineItemRequest, decision *model.RetryDecision) strategy.Query {
	q := strategy.Query{
		Item: item,
		TopK: s.topK,
	}
	if decision == nil {
		return q
	}
	switch decision.Strategy {
	case model.RetryBroadenSearch:
		q.Broaden = true
		q.BroadenFactor = s.broadenFactor
	case model.RetryAlternateTerms:
		q.AlternateTerms = true
	}
	return q
}

// Run executes every strategy concurrently and returns the results that
// completed, in registration order. It returns an error only when the
// parent context ended before any strategy could finish.
func (s *Searcher) Run(ctx context.Context, item model.LineItemRequest, decision *model.RetryDecision) ([]model.StrategyResult, error) {
	strategies := s.registry.All()
	q := s.buildQuery(item, decision)

	results := make([]*model.StrategyResult, len(strategies))
	g, ctx := errgroup.WithContext(ctx)

	for i, st := range strategies {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("strategy panicked",
						zap.String("strategy", st.Name()),
						zap.String("line_item", item.ID),
						zap.Any("panic", r),
					)
					err = nil
				}
			}()

			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			res, err := st.Execute(sctx, q)
			if err != nil {
				// Only context errors escape the executors. A strategy
				// timeout is local; losing one contribution is acceptable.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				zap.L().Warn("strategy timed out",
					zap.String("strategy", st.Name()),
					zap.String("line_item", item.ID),
					zap.Duration("timeout", s.timeout),
				)
				return nil
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.StrategyResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
