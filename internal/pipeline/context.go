package pipeline

import (
	"strings"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
)

// Analyzer derives the per-line-item ProcessingContext: business context,
// complexity, and the dynamic thresholds every downstream gate reads. Pure
// computation, no I/O.
type Analyzer struct {
	cfg config.GateConfig
}

// NewAnalyzer creates an analyzer with the given gate policy.
func NewAnalyzer(cfg config.GateConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Analyze computes the processing context for one line item. Thresholds
// start from the configured stage defaults and are only ever reduced:
// critical urgency takes up to the configured critical reduction, high
// urgency up to the high reduction, scaled by how severe the business
// context is. Standard and low urgency leave defaults untouched.
func (a *Analyzer) Analyze(order model.Order, item model.LineItemRequest) model.ProcessingContext {
	bc := a.businessContext(order, item)
	reduction := a.reduction(item.Urgency, bc)

	return model.ProcessingContext{
		LineItemID:       item.ID,
		Complexity:       a.complexity(item),
		BusinessContext:  bc,
		Urgency:          item.Urgency,
		FlexibilityScore: reduction,
		Thresholds:       a.thresholds(reduction),
	}
}

// Relax produces a new context with one extra bounded threshold reduction
// step applied, for the relax_thresholds retry strategy. The total
// reduction never exceeds the critical reduction plus one step.
func (a *Analyzer) Relax(pc model.ProcessingContext, step float64) model.ProcessingContext {
	if step <= 0 {
		return pc
	}
	maxReduction := a.cfg.ReductionCritical + step
	reduction := pc.FlexibilityScore + step
	if reduction > maxReduction {
		reduction = maxReduction
	}

	relaxed := pc
	relaxed.FlexibilityScore = reduction
	relaxed.Thresholds = a.thresholds(reduction)
	return relaxed
}

func (a *Analyzer) thresholds(reduction float64) map[model.GateStage]float64 {
	return map[model.GateStage]float64{
		model.StageExtraction: a.cfg.ExtractionThreshold * (1 - reduction),
		model.StageSearch:     a.cfg.SearchThreshold * (1 - reduction),
		model.StageMatch:      a.cfg.MatchThreshold * (1 - reduction),
	}
}

// businessContext scans the line item text and order metadata for urgency
// markers. The vocabularies are configuration, not code.
func (a *Analyzer) businessContext(order model.Order, item model.LineItemRequest) model.BusinessContext {
	haystack := strings.ToLower(item.RawText + " " + order.Timeline)

	for _, term := range a.cfg.ProductionDownTerms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return model.ContextProductionDown
		}
	}
	for _, term := range a.cfg.EmergencyTerms {
		if strings.Contains(haystack, strings.ToLower(term)) {
			return model.ContextEmergency
		}
	}
	if item.Urgency == model.UrgencyCritical {
		return model.ContextEmergency
	}
	return model.ContextRoutine
}

// complexity scores the item additively: regulated industry, each required
// certification, non-standard dimensional tolerances, and critical urgency
// each contribute a point, then the total maps to a bucket.
func (a *Analyzer) complexity(item model.LineItemRequest) model.Complexity {
	score := 0

	industry := strings.ToLower(item.CustomerIndustry)
	for _, regulated := range a.cfg.RegulatedIndustries {
		if industry != "" && strings.Contains(industry, strings.ToLower(regulated)) {
			score++
			break
		}
	}

	score += len(item.Parsed.Certifications)

	for _, d := range item.Parsed.Dimensions {
		// A tolerance tighter than the standard 5% band is non-standard.
		if d.Tolerance > 0 && d.Tolerance < d.Value*0.05 {
			score++
			break
		}
	}

	if item.Urgency == model.UrgencyCritical {
		score++
	}

	switch {
	case score == 0:
		return model.ComplexitySimple
	case score == 1:
		return model.ComplexityModerate
	case score <= 3:
		return model.ComplexityComplex
	default:
		return model.ComplexityCritical
	}
}

// reduction computes the threshold reduction fraction for an urgency level
// under a business context. Monotonic in urgency for any fixed context.
func (a *Analyzer) reduction(urgency model.UrgencyLevel, bc model.BusinessContext) float64 {
	var ceiling float64
	switch urgency {
	case model.UrgencyCritical:
		ceiling = a.cfg.ReductionCritical
	case model.UrgencyHigh:
		ceiling = a.cfg.ReductionHigh
	default:
		return 0
	}

	switch bc {
	case model.ContextProductionDown:
		return ceiling
	case model.ContextEmergency:
		return ceiling * 0.85
	default:
		return ceiling * 0.7
	}
}
