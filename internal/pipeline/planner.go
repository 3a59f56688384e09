package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sells-group/partmatch/internal/config"
	"github.com/sells-group/partmatch/internal/model"
)

// SuccessRates is the injected, versioned record of how often each retry
// strategy rescued each failure category. Counters are append-only; reads
// are consistent per decision.
type SuccessRates struct {
	mu      sync.RWMutex
	version int
	counts  map[model.FailureCategory]map[model.RetryStrategy]*rateCounter
}

type rateCounter struct {
	attempts  int
	successes int
	prior     float64
}

// NewSuccessRates seeds the table with fixed priors. Each prior counts as
// ten virtual attempts so early live outcomes shift the estimate gradually.
func NewSuccessRates() *SuccessRates {
	priors := map[model.FailureCategory]map[model.RetryStrategy]float64{
		// Just over the retry gate: one broaden attempt for an empty
		// result set, and a single recorded failure drops it below 0.5.
		model.FailureSearchNoResults: {
			model.RetryBroadenSearch: 0.52,
		},
		model.FailureSearchLowQuality: {
			model.RetryAlternateTerms: 0.55,
			model.RetryBroadenSearch:  0.45,
		},
		model.FailureMatchLowConfidence: {
			model.RetryRelaxThresholds: 0.60,
		},
		model.FailureMatchMissingRequirement: {
			model.RetryBroadenSearch: 0.35,
		},
	}

	counts := make(map[model.FailureCategory]map[model.RetryStrategy]*rateCounter)
	for cat, strategies := range priors {
		counts[cat] = make(map[model.RetryStrategy]*rateCounter)
		for strat, p := range strategies {
			counts[cat][strat] = &rateCounter{prior: p}
		}
	}
	return &SuccessRates{counts: counts}
}

// Probability estimates how likely a retry strategy is to rescue a failure
// category, blending the prior with observed outcomes.
func (r *SuccessRates) Probability(cat model.FailureCategory, strat model.RetryStrategy) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rc, ok := r.counts[cat][strat]
	if !ok {
		return 0
	}
	const priorWeight = 10
	return (rc.prior*priorWeight + float64(rc.successes)) / (priorWeight + float64(rc.attempts))
}

// Record registers a retry outcome for the category/strategy pair.
func (r *SuccessRates) Record(cat model.FailureCategory, strat model.RetryStrategy, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byStrat, ok := r.counts[cat]
	if !ok {
		byStrat = make(map[model.RetryStrategy]*rateCounter)
		r.counts[cat] = byStrat
	}
	rc, ok := byStrat[strat]
	if !ok {
		rc = &rateCounter{prior: 0.5}
		byStrat[strat] = rc
	}
	rc.attempts++
	if success {
		rc.successes++
	}
	r.version++
}

// RateSnapshot is one category/strategy counter in exportable form.
type RateSnapshot struct {
	Category  model.FailureCategory `json:"failure_category"`
	Strategy  model.RetryStrategy   `json:"retry_strategy"`
	Attempts  int                   `json:"attempts"`
	Successes int                   `json:"successes"`
	Prior     float64               `json:"prior"`
}

// Export returns the current counters for persistence. Order is stable.
func (r *SuccessRates) Export() []RateSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []RateSnapshot
	for cat, byStrat := range r.counts {
		for strat, rc := range byStrat {
			out = append(out, RateSnapshot{
				Category:  cat,
				Strategy:  strat,
				Attempts:  rc.attempts,
				Successes: rc.successes,
				Prior:     rc.prior,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

// Import overlays persisted counters, replacing any matching pair.
func (r *SuccessRates) Import(snaps []RateSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range snaps {
		byStrat, ok := r.counts[s.Category]
		if !ok {
			byStrat = make(map[model.RetryStrategy]*rateCounter)
			r.counts[s.Category] = byStrat
		}
		prior := s.Prior
		if existing, ok := byStrat[s.Strategy]; ok && prior == 0 {
			prior = existing.prior
		}
		byStrat[s.Strategy] = &rateCounter{
			attempts:  s.Attempts,
			successes: s.Successes,
			prior:     prior,
		}
	}
}

// Version returns the number of recorded outcomes since start.
func (r *SuccessRates) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Planner decides, after a gate failure, whether to retry with an adjusted
// strategy or escalate to manual review.
type Planner struct {
	cfg   config.RetryConfig
	rates *SuccessRates
}

// NewPlanner creates a planner over the shared success-rate state.
func NewPlanner(cfg config.RetryConfig, rates *SuccessRates) *Planner {
	if rates == nil {
		rates = NewSuccessRates()
	}
	return &Planner{cfg: cfg, rates: rates}
}

// Rates exposes the shared success-rate table for outcome recording.
func (p *Planner) Rates() *SuccessRates { return p.rates }

// Classify maps a failed verdict to its failure category using the stage
// and the canonical issue markers.
func Classify(v model.QualityGateVerdict) model.FailureCategory {
	switch v.Stage {
	case model.StageExtraction:
		return model.FailureExtractionUnclear
	case model.StageSearch:
		for _, issue := range v.Issues {
			if strings.HasPrefix(issue, issueNoCandidates) {
				return model.FailureSearchNoResults
			}
		}
		return model.FailureSearchLowQuality
	default:
		for _, issue := range v.Issues {
			if strings.HasPrefix(issue, issueMissingCert) {
				return model.FailureMatchMissingRequirement
			}
		}
		return model.FailureMatchLowConfidence
	}
}

// preferredStrategy maps each failure category to its first-choice remedy.
func preferredStrategy(cat model.FailureCategory) model.RetryStrategy {
	switch cat {
	case model.FailureSearchNoResults:
		return model.RetryBroadenSearch
	case model.FailureSearchLowQuality:
		return model.RetryAlternateTerms
	case model.FailureMatchLowConfidence:
		return model.RetryRelaxThresholds
	case model.FailureMatchMissingRequirement:
		return model.RetryBroadenSearch
	default:
		// Input defects cannot be improved by retrying.
		return model.RetryManualReview
	}
}

// Plan produces the retry decision for a failed verdict on the given
// attempt number (1-based).
func (p *Planner) Plan(v model.QualityGateVerdict, attempt int) model.RetryDecision {
	cat := Classify(v)
	strat := preferredStrategy(cat)

	decision := model.RetryDecision{
		Category: cat,
		Strategy: strat,
	}

	if strat == model.RetryManualReview {
		decision.Rationale = "input defect: retrying cannot improve the request"
		return decision
	}

	prob := p.rates.Probability(cat, strat)
	decision.SuccessProbability = prob

	switch {
	case attempt >= p.cfg.MaxAttempts:
		decision.Strategy = model.RetryManualReview
		decision.Rationale = fmt.Sprintf("attempt limit reached (%d)", p.cfg.MaxAttempts)
	case prob < p.cfg.ProbabilityThreshold:
		decision.Strategy = model.RetryManualReview
		decision.Rationale = fmt.Sprintf(
			"estimated success %.2f below %.2f for %s",
			prob, p.cfg.ProbabilityThreshold, strat)
	default:
		decision.Rationale = fmt.Sprintf(
			"retrying %s with %s (estimated success %.2f)",
			cat, strat, prob)
	}
	return decision
}
