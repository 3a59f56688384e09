package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
)

// Canonical issue prefixes. The planner classifies failures from the
// verdict's stage plus these markers, so gates and planner must agree.
const (
	issueMissingFields   = "material or form missing"
	issueBadQuantity     = "quantity must be positive"
	issueNoCandidates    = "no strategy returned candidates"
	issueLowSearchScore  = "best strategy score below threshold"
	issueNoBestMatch     = "no candidate cleared the match threshold"
	issueLowCombined     = "combined score below threshold"
	issueMissingCert     = "missing required certification"
	issueWeakAgreement   = "fewer than 2 strategies agree on top candidate"
	issueNearThreshold   = "combined score within warn margin of threshold"
)

// Gates evaluates stage checkpoints against context-adjusted thresholds.
// All methods are pure: they never mutate their inputs.
type Gates struct {
	cfg config.GateConfig
}

// NewGates creates the stage validators with the given policy.
func NewGates(cfg config.GateConfig) *Gates {
	return &Gates{cfg: cfg}
}

// Extraction validates the externally supplied line item before any search
// runs. It fails when the upstream extraction left too little to search on:
// neither material nor form, or a non-positive quantity.
func (g *Gates) Extraction(item model.LineItemRequest, pc model.ProcessingContext) model.QualityGateVerdict {
	v := model.QualityGateVerdict{
		Stage:          model.StageExtraction,
		ThresholdsUsed: pc.Thresholds,
	}

	present := 0.0
	if strings.TrimSpace(item.RawText) != "" {
		present++
	}
	if item.Parsed.Material != "" || item.Parsed.Form != "" {
		present++
	} else {
		v.Issues = append(v.Issues, issueMissingFields)
	}
	if item.Parsed.Quantity > 0 {
		present++
	} else {
		v.Issues = append(v.Issues, issueBadQuantity)
	}

	v.Score = present / 3
	v.Passed = len(v.Issues) == 0
	return v
}

// Search validates the joined strategy results. It fails when no strategy
// produced a candidate or the best raw score is under the dynamic search
// threshold, and warns when fewer than two strategies agree on the top
// candidate.
func (g *Gates) Search(results []model.StrategyResult, pc model.ProcessingContext) model.QualityGateVerdict {
	v := model.QualityGateVerdict{
		Stage:          model.StageSearch,
		ThresholdsUsed: pc.Thresholds,
	}

	bestScore := 0.0
	contributing := 0
	topByStrategy := make(map[string]string) // strategy -> its top part key
	for _, sr := range results {
		if len(sr.Candidates) == 0 {
			continue
		}
		contributing++
		top := sr.Candidates[0]
		for _, c := range sr.Candidates {
			if c.RawScore > top.RawScore {
				top = c
			}
			if c.RawScore > bestScore {
				bestScore = c.RawScore
			}
		}
		topByStrategy[sr.Strategy] = top.PartKey
	}
	v.Score = bestScore

	if contributing == 0 {
		v.Issues = append(v.Issues, issueNoCandidates)
		return v
	}

	threshold := pc.Threshold(model.StageSearch)
	if bestScore < threshold {
		v.Issues = append(v.Issues,
			fmt.Sprintf("%s (%.2f < %.2f)", issueLowSearchScore, bestScore, threshold))
		return v
	}

	v.Passed = true
	if agreementCount(topByStrategy) < 2 {
		v.Warning = true
		v.Issues = append(v.Issues, issueWeakAgreement)
	}
	return v
}

// Match validates the aggregated result. It fails when no best match
// cleared the threshold, the combined score is under it, or the candidate
// lacks a required certification; it warns when the combined score sits
// within the warn margin above the threshold.
func (g *Gates) Match(res *model.MatchResult, item model.LineItemRequest, pc model.ProcessingContext) model.QualityGateVerdict {
	v := model.QualityGateVerdict{
		Stage:          model.StageMatch,
		ThresholdsUsed: pc.Thresholds,
	}
	threshold := pc.Threshold(model.StageMatch)

	if res.BestMatch == nil {
		if len(res.Alternatives) > 0 {
			v.Score = res.Alternatives[0].CombinedScore
		}
		v.Issues = append(v.Issues, issueNoBestMatch)
		return v
	}

	best := res.BestMatch
	v.Score = best.CombinedScore

	if best.CombinedScore < threshold {
		v.Issues = append(v.Issues,
			fmt.Sprintf("%s (%.2f < %.2f)", issueLowCombined, best.CombinedScore, threshold))
		return v
	}

	for _, required := range item.Parsed.Certifications {
		if !hasCertification(best.Certifications, required) {
			v.Issues = append(v.Issues, fmt.Sprintf("%s %q", issueMissingCert, required))
		}
	}
	if len(v.Issues) > 0 {
		return v
	}

	v.Passed = true
	if best.CombinedScore < threshold+g.cfg.WarnMargin {
		v.Warning = true
		v.Issues = append(v.Issues, issueNearThreshold)
	}
	return v
}

// agreementCount returns how many strategies share the most common top
// candidate.
func agreementCount(topByStrategy map[string]string) int {
	counts := make(map[string]int)
	maxCount := 0
	for _, partKey := range topByStrategy {
		counts[partKey]++
		if counts[partKey] > maxCount {
			maxCount = counts[partKey]
		}
	}
	return maxCount
}

func hasCertification(have []string, want string) bool {
	for _, c := range have {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(want)) {
			return true
		}
	}
	return false
}
