package pipeline

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/strategy"
)

// Aggregator merges per-strategy results into a ranked candidate list with
// one combined confidence per candidate.
type Aggregator struct {
	weights         map[string]float64
	maxAlternatives int
}

// NewAggregator creates an aggregator with per-strategy weights. Unknown
// strategies default to weight 0.1 so a custom strategy still contributes.
func NewAggregator(weights map[string]float64, maxAlternatives int) *Aggregator {
	if maxAlternatives <= 0 {
		maxAlternatives = 5
	}
	return &Aggregator{weights: weights, maxAlternatives: maxAlternatives}
}

func (a *Aggregator) weight(strategyName string) float64 {
	if w, ok := a.weights[strategyName]; ok && w > 0 {
		return w
	}
	return 0.1
}

// Aggregate unions candidates by part key and computes each candidate's
// combined score as the weighted average over the strategies that actually
// surfaced it. The ranking is deterministic: combined score, then number of
// contributing strategies, then availability, then part key. BestMatch is
// set only when the top candidate clears the dynamic match threshold;
// otherwise the top candidates are kept as alternatives for review.
func (a *Aggregator) Aggregate(results []model.StrategyResult, pc model.ProcessingContext) *model.MatchResult {
	merged := make(map[string]*model.CandidateMatch)

	for _, sr := range results {
		for _, c := range sr.Candidates {
			cm, ok := merged[c.PartKey]
			if !ok {
				cm = &model.CandidateMatch{
					PartKey:        c.PartKey,
					StrategyScores: make(map[string]float64),
				}
				merged[c.PartKey] = cm
			}
			cm.StrategyScores[sr.Strategy] = c.RawScore
			fillCandidateFields(cm, c.Fields)
		}
	}

	ranked := make([]model.CandidateMatch, 0, len(merged))
	for _, cm := range merged {
		var weighted, totalWeight float64
		for name, score := range cm.StrategyScores {
			w := a.weight(name)
			weighted += w * score
			totalWeight += w
		}
		if totalWeight == 0 {
			continue
		}
		cm.CombinedScore = clamp01(weighted / totalWeight)
		ranked = append(ranked, *cm)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].CombinedScore != ranked[j].CombinedScore {
			return ranked[i].CombinedScore > ranked[j].CombinedScore
		}
		if len(ranked[i].StrategyScores) != len(ranked[j].StrategyScores) {
			return len(ranked[i].StrategyScores) > len(ranked[j].StrategyScores)
		}
		if ranked[i].Availability != ranked[j].Availability {
			return ranked[i].Availability > ranked[j].Availability
		}
		return ranked[i].PartKey < ranked[j].PartKey
	})

	res := &model.MatchResult{LineItemID: pc.LineItemID}
	if len(ranked) == 0 {
		return res
	}

	threshold := pc.Threshold(model.StageMatch)
	if ranked[0].CombinedScore >= threshold {
		best := ranked[0]
		res.BestMatch = &best
		ranked = ranked[1:]
	}
	if len(ranked) > a.maxAlternatives {
		ranked = ranked[:a.maxAlternatives]
	}
	res.Alternatives = ranked
	return res
}

// fillCandidateFields copies raw strategy fields into the candidate,
// keeping the first non-empty value seen for each attribute.
func fillCandidateFields(cm *model.CandidateMatch, fields map[string]string) {
	if cm.Description == "" {
		cm.Description = fields[strategy.FieldDescription]
	}
	if cm.Material == "" {
		cm.Material = fields[strategy.FieldMaterial]
	}
	if cm.Price == 0 {
		if p, err := strconv.ParseFloat(fields[strategy.FieldPrice], 64); err == nil {
			cm.Price = p
		}
	}
	if cm.Availability == 0 {
		if av, err := strconv.Atoi(fields[strategy.FieldAvailability]); err == nil {
			cm.Availability = av
		}
	}
	if len(cm.Certifications) == 0 {
		if certs := fields[strategy.FieldCertifications]; certs != "" {
			cm.Certifications = strings.Split(certs, ";")
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
