package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
)

// Orchestrator fans an order's line items across a bounded pool of
// pipeline workers and assembles the run result. One failing or slow item
// never affects its siblings.
type Orchestrator struct {
	pipeline     *ItemPipeline
	concurrency  int
	orderTimeout time.Duration
}

// NewOrchestrator builds an orchestrator over a shared item pipeline.
func NewOrchestrator(p *ItemPipeline, cfg config.OrchestratorConfig) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		pipeline:     p,
		concurrency:  concurrency,
		orderTimeout: time.Duration(cfg.OrderTimeoutSecs) * time.Second,
	}
}

// ProcessOrder runs every line item to a terminal outcome and summarizes
// the order. Outcomes are returned in line-item order regardless of
// completion order. The order-level timeout converts unfinished items to
// manual review records rather than dropping them.
func (o *Orchestrator) ProcessOrder(ctx context.Context, order model.Order) model.RunResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.orderTimeout)
	defer cancel()

	zap.L().Info("processing order",
		zap.String("order", order.ID),
		zap.String("customer", order.CustomerName),
		zap.Int("line_items", len(order.LineItems)),
		zap.Int("concurrency", o.concurrency),
	)

	outcomes := make([]model.LineItemOutcome, len(order.LineItems))

	g := new(errgroup.Group)
	g.SetLimit(o.concurrency)
	for i, item := range order.LineItems {
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = o.timedOut(item.ID)
				return nil
			}
			outcomes[i] = o.pipeline.Run(ctx, order, item)
			return nil
		})
	}
	// Workers never return errors; every failure is an outcome.
	_ = g.Wait()

	for i, item := range order.LineItems {
		if outcomes[i].LineItemID == "" {
			outcomes[i] = o.timedOut(item.ID)
		}
	}

	result := model.Summarize(outcomes, time.Since(start))
	zap.L().Info("order complete",
		zap.String("order", order.ID),
		zap.Int("matched", result.ItemsMatched),
		zap.Int("warned", result.ItemsWarned),
		zap.Int("escalated", result.ItemsEscalated),
		zap.Float64("avg_combined", result.AvgCombined),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

func (o *Orchestrator) timedOut(lineItemID string) model.LineItemOutcome {
	return model.LineItemOutcome{
		LineItemID: lineItemID,
		Review: &model.ManualReviewRecord{
			LineItemID: lineItemID,
			Reason:     reviewReasonTimeout,
			CreatedAt:  time.Now().UTC(),
		},
	}
}
