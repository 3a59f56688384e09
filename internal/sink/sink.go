// Package sink delivers per-line-item progress and result events to the
// presentation layer.
package sink

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/model"
)

// StageEvent is emitted once per terminal stage transition of a line item.
type StageEvent struct {
	LineItemID string                    `json:"line_item_id"`
	Stage      model.GateStage           `json:"stage"`
	Verdict    *model.QualityGateVerdict `json:"verdict,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// FinalEvent carries the single terminal outcome of a line item.
type FinalEvent struct {
	LineItemID string                    `json:"line_item_id"`
	Match      *model.MatchResult        `json:"match,omitempty"`
	Review     *model.ManualReviewRecord `json:"review,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// Sink consumes pipeline events. Implementations must be safe for
// concurrent use; delivery failures must not propagate into the pipeline.
type Sink interface {
	Stage(ev StageEvent)
	Final(ev FinalEvent)
}

// LogSink writes events to the global zap logger.
type LogSink struct{}

// Stage logs a stage transition.
func (LogSink) Stage(ev StageEvent) {
	fields := []zap.Field{
		zap.String("line_item", ev.LineItemID),
		zap.String("stage", string(ev.Stage)),
	}
	if ev.Verdict != nil {
		fields = append(fields,
			zap.Bool("passed", ev.Verdict.Passed),
			zap.Float64("score", ev.Verdict.Score),
		)
		if len(ev.Verdict.Issues) > 0 {
			fields = append(fields, zap.Strings("issues", ev.Verdict.Issues))
		}
	}
	zap.L().Info("stage complete", fields...)
}

// Final logs a terminal outcome.
func (LogSink) Final(ev FinalEvent) {
	switch {
	case ev.Review != nil:
		zap.L().Warn("line item escalated",
			zap.String("line_item", ev.LineItemID),
			zap.String("reason", ev.Review.Reason),
			zap.Int("attempts", len(ev.Review.History)),
		)
	case ev.Match != nil:
		fields := []zap.Field{
			zap.String("line_item", ev.LineItemID),
			zap.String("status", string(ev.Match.QualityStatus)),
			zap.Int("attempts", ev.Match.AttemptCount),
		}
		if ev.Match.BestMatch != nil {
			fields = append(fields,
				zap.String("part_key", ev.Match.BestMatch.PartKey),
				zap.Float64("combined_score", ev.Match.BestMatch.CombinedScore),
			)
		}
		zap.L().Info("line item matched", fields...)
	}
}

// Multi fans events out to several sinks.
type Multi []Sink

// Stage delivers the event to every sink.
func (m Multi) Stage(ev StageEvent) {
	for _, s := range m {
		s.Stage(ev)
	}
}

// Final delivers the event to every sink.
func (m Multi) Final(ev FinalEvent) {
	for _, s := range m {
		s.Final(ev)
	}
}

// Discard drops all events. Used by tests and as the default.
type Discard struct{}

func (Discard) Stage(StageEvent) {}
func (Discard) Final(FinalEvent) {}
