package model

import "time"

// StrategyCandidate is one scored hit from a single search strategy.
type StrategyCandidate struct {
	PartKey  string            `json:"part_key"`
	RawScore float64           `json:"raw_score"` // normalized to [0,1] by the executor
	Fields   map[string]string `json:"fields,omitempty"`
}

// StrategyResult is the uniform output of one strategy execution for one
// line item. Produced fresh per search attempt and never mutated.
type StrategyResult struct {
	Strategy   string              `json:"strategy_name"`
	LineItemID string              `json:"line_item_id"`
	Candidates []StrategyCandidate `json:"candidates"`
}

// CandidateMatch is a catalog item surfaced by at least one strategy,
// carrying per-strategy evidence and the weighted combined score.
type CandidateMatch struct {
	PartKey        string             `json:"part_key"`
	Description    string             `json:"description,omitempty"`
	Material       string             `json:"material,omitempty"`
	Price          float64            `json:"price,omitempty"`
	Availability   int                `json:"availability"`
	Certifications []string           `json:"certifications,omitempty"`
	StrategyScores map[string]float64 `json:"per_strategy_scores"`
	CombinedScore  float64            `json:"combined_score"` // in [0,1]
}

// QualityStatus is the terminal quality classification of a match result.
type QualityStatus string

const (
	QualityPassed    QualityStatus = "passed"
	QualityWarning   QualityStatus = "warning"
	QualityFailed    QualityStatus = "failed"
	QualityEscalated QualityStatus = "escalated"
)

// MatchResult is the per-line-item outcome of search and aggregation.
type MatchResult struct {
	LineItemID    string           `json:"line_item_id"`
	BestMatch     *CandidateMatch  `json:"best_match,omitempty"`
	Alternatives  []CandidateMatch `json:"alternatives,omitempty"`
	QualityStatus QualityStatus    `json:"quality_status"`
	AttemptCount  int              `json:"attempt_count"`
}

// QualityGateVerdict records one checkpoint decision, including the
// thresholds that were in force, for auditability.
type QualityGateVerdict struct {
	Stage          GateStage             `json:"stage"`
	Passed         bool                  `json:"passed"`
	Warning        bool                  `json:"warning,omitempty"`
	Score          float64               `json:"score"`
	Issues         []string              `json:"issues,omitempty"`
	ThresholdsUsed map[GateStage]float64 `json:"thresholds_used"`
}

// FailureCategory classifies why a gate failed, driving retry selection.
type FailureCategory string

const (
	FailureExtractionUnclear       FailureCategory = "extraction_unclear"
	FailureSearchNoResults         FailureCategory = "search_no_results"
	FailureSearchLowQuality        FailureCategory = "search_low_quality"
	FailureMatchLowConfidence      FailureCategory = "match_low_confidence"
	FailureMatchMissingRequirement FailureCategory = "match_missing_requirement"
)

// RetryStrategy is the remedial action chosen after a gate failure.
type RetryStrategy string

const (
	RetryBroadenSearch   RetryStrategy = "broaden_search"
	RetryAlternateTerms  RetryStrategy = "alternate_terms"
	RetryRelaxThresholds RetryStrategy = "relax_thresholds"
	RetryManualReview    RetryStrategy = "manual_review"
)

// RetryDecision is the planner's verdict on a failed attempt.
type RetryDecision struct {
	Category           FailureCategory `json:"failure_category"`
	Strategy           RetryStrategy   `json:"chosen_strategy"`
	SuccessProbability float64         `json:"estimated_success_probability"`
	Rationale          string          `json:"rationale"`
}

// AttemptRecord captures one pipeline attempt for the escalation history.
type AttemptRecord struct {
	Attempt   int                  `json:"attempt"`
	Verdicts  []QualityGateVerdict `json:"verdicts,omitempty"`
	Decision  *RetryDecision       `json:"decision,omitempty"`
	StartedAt time.Time            `json:"started_at"`
}

// ManualReviewRecord is the terminal handoff of a line item to a human.
type ManualReviewRecord struct {
	LineItemID string          `json:"line_item_id"`
	Reason     string          `json:"reason"`
	History    []AttemptRecord `json:"history,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LineItemOutcome is the single terminal state of one line item: exactly
// one of Match or Review is set.
type LineItemOutcome struct {
	LineItemID string              `json:"line_item_id"`
	Match      *MatchResult        `json:"match,omitempty"`
	Review     *ManualReviewRecord `json:"review,omitempty"`
}

// Escalated reports whether the outcome ended in manual review.
func (o *LineItemOutcome) Escalated() bool {
	return o != nil && o.Review != nil
}
