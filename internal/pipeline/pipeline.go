// Package pipeline turns one order line item into a terminal outcome:
// context analysis, parallel strategy search, weighted aggregation, quality
// gates, and retry planning with escalation to manual review.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/sink"
	"github.com/sells-group/partmatch/internal/strategy"
)

// ItemPipeline processes a single line item end to end. Safe for
// concurrent use across line items.
type ItemPipeline struct {
	analyzer   *Analyzer
	searcher   *Searcher
	aggregator *Aggregator
	gates      *Gates
	planner    *Planner
	events     sink.Sink

	itemTimeout time.Duration
	relaxStep   float64
}

// New wires the full per-item pipeline from configuration.
func New(cfg *config.Config, registry *strategy.Registry, events sink.Sink) *ItemPipeline {
	if events == nil {
		events = sink.Discard{}
	}
	return &ItemPipeline{
		analyzer:    NewAnalyzer(cfg.Gate),
		searcher:    NewSearcher(registry, cfg.Match, cfg.Orchestrator),
		aggregator:  NewAggregator(cfg.Match.Weights, cfg.Match.MaxAlternatives),
		gates:       NewGates(cfg.Gate),
		planner:     NewPlanner(cfg.Retry, NewSuccessRates()),
		events:      events,
		itemTimeout: time.Duration(cfg.Orchestrator.ItemTimeoutSecs) * time.Second,
		relaxStep:   cfg.Retry.RelaxStep,
	}
}

// Planner exposes the retry planner, mainly so callers can share its
// success-rate table across pipelines.
func (p *ItemPipeline) Planner() *Planner { return p.planner }

// Run processes one line item to its terminal outcome. It never returns an
// error and never panics: every failure mode, a panic in any stage or in
// the event sink included, ends in either a match or a manual review
// record.
func (p *ItemPipeline) Run(ctx context.Context, order model.Order, item model.LineItemRequest) (outcome model.LineItemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("line item pipeline panicked",
				zap.String("line_item", item.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			outcome = model.LineItemOutcome{
				LineItemID: item.ID,
				Review: &model.ManualReviewRecord{
					LineItemID: item.ID,
					Reason:     reviewReasonInternal,
					CreatedAt:  time.Now().UTC(),
				},
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	pc := p.analyzer.Analyze(order, item)
	zap.L().Debug("processing context built",
		zap.String("line_item", item.ID),
		zap.String("urgency", string(pc.Urgency)),
		zap.String("business_context", string(pc.BusinessContext)),
		zap.String("complexity", string(pc.Complexity)),
		zap.Float64("match_threshold", pc.Threshold(model.StageMatch)),
	)

	history := make([]model.AttemptRecord, 0, 3)

	// Extraction quality is a property of the input; a failure here cannot
	// be searched around, so there is no retry loop for it.
	extraction := p.gates.Extraction(item, pc)
	p.emitStage(item.ID, extraction)
	if !extraction.Passed {
		decision := p.planner.Plan(extraction, 1)
		history = append(history, model.AttemptRecord{
			Attempt:   1,
			Verdicts:  []model.QualityGateVerdict{extraction},
			Decision:  &decision,
			StartedAt: time.Now().UTC(),
		})
		return p.escalate(item.ID, string(decision.Category), history)
	}

	var lastDecision *model.RetryDecision
	for attempt := 1; ; attempt++ {
		record := model.AttemptRecord{
			Attempt:   attempt,
			StartedAt: time.Now().UTC(),
		}

		results, err := p.searcher.Run(ctx, item, lastDecision)
		if err != nil {
			// Context ended mid-search. Report what we know and hand off.
			history = append(history, record)
			return p.escalate(item.ID, reviewReasonTimeout, history)
		}

		searchVerdict := p.gates.Search(results, pc)
		record.Verdicts = append(record.Verdicts, searchVerdict)
		p.emitStage(item.ID, searchVerdict)

		if !searchVerdict.Passed {
			outcome, next, npc := p.afterFailure(item.ID, searchVerdict, attempt, pc, lastDecision, &record, &history)
			if outcome != nil {
				return *outcome
			}
			lastDecision, pc = next, npc
			continue
		}

		matched := p.aggregator.Aggregate(results, pc)
		matched.AttemptCount = attempt

		matchVerdict := p.gates.Match(matched, item, pc)
		record.Verdicts = append(record.Verdicts, matchVerdict)
		p.emitStage(item.ID, matchVerdict)

		if matchVerdict.Passed {
			if lastDecision != nil {
				p.planner.Rates().Record(lastDecision.Category, lastDecision.Strategy, true)
			}
			if matchVerdict.Warning {
				matched.QualityStatus = model.QualityWarning
			} else {
				matched.QualityStatus = model.QualityPassed
			}
			history = append(history, record)
			p.events.Final(sink.FinalEvent{
				LineItemID: item.ID,
				Match:      matched,
				Timestamp:  time.Now().UTC(),
			})
			return model.LineItemOutcome{LineItemID: item.ID, Match: matched}
		}

		outcome, next, npc := p.afterFailure(item.ID, matchVerdict, attempt, pc, lastDecision, &record, &history)
		if outcome != nil {
			return *outcome
		}
		lastDecision, pc = next, npc
	}
}

const (
	reviewReasonTimeout  = "timeout"
	reviewReasonInternal = "internal_error"
)

// afterFailure applies the planner to a failed verdict: either an
// escalation outcome, or the decision and (possibly relaxed) context for
// the next attempt.
func (p *ItemPipeline) afterFailure(
	lineItemID string,
	verdict model.QualityGateVerdict,
	attempt int,
	pc model.ProcessingContext,
	lastDecision *model.RetryDecision,
	record *model.AttemptRecord,
	history *[]model.AttemptRecord,
) (*model.LineItemOutcome, *model.RetryDecision, model.ProcessingContext) {
	if lastDecision != nil {
		p.planner.Rates().Record(lastDecision.Category, lastDecision.Strategy, false)
	}

	decision := p.planner.Plan(verdict, attempt)
	record.Decision = &decision
	*history = append(*history, *record)

	if decision.Strategy == model.RetryManualReview {
		outcome := p.escalate(lineItemID, string(decision.Category), *history)
		return &outcome, nil, pc
	}

	zap.L().Info("retrying line item",
		zap.String("line_item", lineItemID),
		zap.Int("attempt", attempt),
		zap.String("failure_category", string(decision.Category)),
		zap.String("retry_strategy", string(decision.Strategy)),
		zap.Float64("estimated_success", decision.SuccessProbability),
	)

	if decision.Strategy == model.RetryRelaxThresholds {
		pc = p.analyzer.Relax(pc, p.relaxStep)
	}
	return nil, &decision, pc
}

func (p *ItemPipeline) escalate(lineItemID, reason string, history []model.AttemptRecord) model.LineItemOutcome {
	review := &model.ManualReviewRecord{
		LineItemID: lineItemID,
		Reason:     reason,
		History:    history,
		CreatedAt:  time.Now().UTC(),
	}
	p.events.Final(sink.FinalEvent{
		LineItemID: lineItemID,
		Review:     review,
		Timestamp:  time.Now().UTC(),
	})
	return model.LineItemOutcome{LineItemID: lineItemID, Review: review}
}

func (p *ItemPipeline) emitStage(lineItemID string, v model.QualityGateVerdict) {
	p.events.Stage(sink.StageEvent{
		LineItemID: lineItemID,
		Stage:      v.Stage,
		Verdict:    &v,
		Timestamp:  time.Now().UTC(),
	})
}
