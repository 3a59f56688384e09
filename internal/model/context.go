package model

// Complexity buckets the analyzer's additive complexity score.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// BusinessContext classifies the situational pressure behind a line item.
type BusinessContext string

const (
	ContextRoutine        BusinessContext = "routine"
	ContextEmergency      BusinessContext = "emergency"
	ContextProductionDown BusinessContext = "production_down"
)

// GateStage identifies which pipeline checkpoint a threshold or verdict
// belongs to.
type GateStage string

const (
	StageExtraction GateStage = "extraction"
	StageSearch     GateStage = "search"
	StageMatch      GateStage = "match"
)

// ProcessingContext parameterizes the pipeline for one line item. It is
// computed once before search, recomputed only on retry, and read-only for
// everything downstream.
type ProcessingContext struct {
	LineItemID       string                `json:"line_item_id"`
	Complexity       Complexity            `json:"complexity"`
	BusinessContext  BusinessContext       `json:"business_context"`
	Urgency          UrgencyLevel          `json:"urgency"`
	FlexibilityScore float64               `json:"flexibility_score"` // 0..1, how far thresholds were relaxed
	Thresholds       map[GateStage]float64 `json:"dynamic_thresholds"`
}

// Threshold returns the dynamic threshold for a stage, or 0 if unset.
func (c *ProcessingContext) Threshold(stage GateStage) float64 {
	if c == nil || c.Thresholds == nil {
		return 0
	}
	return c.Thresholds[stage]
}
