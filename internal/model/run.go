package model

import "time"

// RunStatus tracks an order run through the orchestrator.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusMatching  RunStatus = "matching"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one orchestrator execution over an order.
type Run struct {
	ID        string     `json:"id"`
	OrderID   string     `json:"order_id"`
	Customer  string     `json:"customer,omitempty"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult is the persisted summary of a completed run.
type RunResult struct {
	ItemsTotal     int               `json:"items_total"`
	ItemsMatched   int               `json:"items_matched"`
	ItemsWarned    int               `json:"items_warned"`
	ItemsEscalated int               `json:"items_escalated"`
	AvgCombined    float64           `json:"avg_combined_score"`
	DurationMS     int64             `json:"duration_ms"`
	Outcomes       []LineItemOutcome `json:"outcomes,omitempty"`
}

// Summarize computes the run summary counters from a set of outcomes.
func Summarize(outcomes []LineItemOutcome, duration time.Duration) RunResult {
	res := RunResult{
		ItemsTotal: len(outcomes),
		DurationMS: duration.Milliseconds(),
		Outcomes:   outcomes,
	}

	scored := 0
	var sum float64
	for _, o := range outcomes {
		switch {
		case o.Review != nil:
			res.ItemsEscalated++
		case o.Match != nil:
			if o.Match.QualityStatus == QualityWarning {
				res.ItemsWarned++
			}
			res.ItemsMatched++
			if o.Match.BestMatch != nil {
				sum += o.Match.BestMatch.CombinedScore
				scored++
			}
		}
	}
	if scored > 0 {
		res.AvgCombined = sum / float64(scored)
	}
	return res
}
